package l3encoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// dense is a prepared affine layer y = tanh(W·x + b).
type dense struct {
	w *mat.Dense
	b *mat.VecDense
}

func newDense(d *DenseParams) dense {
	rows, cols := len(d.Weights), len(d.Weights[0])
	return dense{
		w: mat.NewDense(rows, cols, d.flat()),
		b: mat.NewVecDense(rows, append([]float64(nil), d.Bias...)),
	}
}

// forward returns tanh(W·x + b) as a fresh slice. A non-finite
// pre-activation is passed through as NaN rather than saturated, so
// overflow is never hidden by the activation.
func (d dense) forward(x []float64) []float64 {
	rows, _ := d.w.Dims()
	var y mat.VecDense
	y.MulVec(d.w, mat.NewVecDense(len(x), x))
	y.AddVec(&y, d.b)
	out := make([]float64, rows)
	for i := range out {
		v := y.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Tanh(v)
	}
	return out
}

// branch is one feature extractor. It holds only immutable parameters.
type branch struct {
	name    string
	shape   csi.GridShape
	bands   int
	kernels [][KernelSize * KernelSize]float64
	bias    []float64
	proj    dense
}

func newBranch(name string, p *Params, b *BranchParams) branch {
	return branch{
		name:    name,
		shape:   p.Shape,
		bands:   p.PoolBands,
		kernels: b.Kernels,
		bias:    b.KernelBias,
		proj:    newDense(&b.Dense),
	}
}

// forward maps a pair × subcarrier image to the branch embedding:
// 3×3 convolution (zero padded) with ReLU, mean pooling into subcarrier
// bands per pair, then the dense projection.
func (br branch) forward(img []float64) []float64 {
	pairs, nsc := br.shape.Pairs(), br.shape.Subcarriers
	pooled := make([]float64, 0, len(br.kernels)*pairs*br.bands)

	at := func(p, s int) float64 {
		if p < 0 || p >= pairs || s < 0 || s >= nsc {
			return 0
		}
		return img[p*nsc+s]
	}

	for ki, k := range br.kernels {
		for p := 0; p < pairs; p++ {
			for b := 0; b < br.bands; b++ {
				lo, hi := b*nsc/br.bands, (b+1)*nsc/br.bands
				sum := 0.0
				for s := lo; s < hi; s++ {
					v := br.bias[ki]
					for dp := -1; dp <= 1; dp++ {
						for ds := -1; ds <= 1; ds++ {
							v += k[(dp+1)*KernelSize+ds+1] * at(p+dp, s+ds)
						}
					}
					if v > 0 {
						sum += v
					}
				}
				pooled = append(pooled, sum/float64(hi-lo))
			}
		}
	}
	return br.proj.forward(pooled)
}

// Encoder maps conditioned frames to fused embeddings. It is immutable
// and safe for concurrent use.
type Encoder struct {
	params    *Params
	amplitude branch
	phase     branch
	fusion    dense
}

// NewEncoder validates p and prepares the branch matrices.
func NewEncoder(p *Params) (*Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{
		params:    p,
		amplitude: newBranch("amplitude", p, &p.Amplitude),
		phase:     newBranch("phase", p, &p.Phase),
		fusion:    newDense(&p.Fusion),
	}, nil
}

// Params returns the loaded bundle. Callers must not modify it.
func (e *Encoder) Params() *Params { return e.params }

// Dim returns the fused embedding width.
func (e *Encoder) Dim() int { return e.params.EmbeddingDim() }

// Shape returns the grid the encoder was built for.
func (e *Encoder) Shape() csi.GridShape { return e.params.Shape }

// Version returns the parameter bundle version.
func (e *Encoder) Version() string { return e.params.Version }

// Encode runs both branches and fuses their outputs. A non-finite value
// anywhere yields an *csi.InferenceError and no embedding.
func (e *Encoder) Encode(frame *csi.ConditionedFrame) (*csi.FusedEmbedding, error) {
	if frame.Shape != e.params.Shape {
		return nil, &csi.ShapeMismatchError{Seq: frame.Seq, Want: e.params.Shape, Got: frame.Shape}
	}
	cells := e.params.Shape.Cells()
	if len(frame.Amplitude) != cells || len(frame.Phase) != cells {
		return nil, fmt.Errorf("encode frame %d: tensors have %d/%d cells, want %d: %w",
			frame.Seq, len(frame.Amplitude), len(frame.Phase), cells, csi.ErrShapeMismatch)
	}

	if i := firstNonFinite(frame.Amplitude); i >= 0 {
		return nil, &csi.InferenceError{Seq: frame.Seq, Stage: "amplitude input", Index: i}
	}
	if i := firstNonFinite(frame.Phase); i >= 0 {
		return nil, &csi.InferenceError{Seq: frame.Seq, Stage: "phase input", Index: i}
	}

	a := e.amplitude.forward(frame.Amplitude)
	if i := firstNonFinite(a); i >= 0 {
		return nil, &csi.InferenceError{Seq: frame.Seq, Stage: e.amplitude.name, Index: i}
	}
	p := e.phase.forward(frame.Phase)
	if i := firstNonFinite(p); i >= 0 {
		return nil, &csi.InferenceError{Seq: frame.Seq, Stage: e.phase.name, Index: i}
	}

	fused := e.fusion.forward(append(a, p...))
	if i := firstNonFinite(fused); i >= 0 {
		return nil, &csi.InferenceError{Seq: frame.Seq, Stage: "fusion", Index: i}
	}
	return &csi.FusedEmbedding{
		Seq:          frame.Seq,
		Timestamp:    frame.Timestamp,
		ModelVersion: e.params.Version,
		Vector:       fused,
	}, nil
}

func firstNonFinite(v []float64) int {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}
