package l3encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// KernelSize is the side of the square convolution kernels.
const KernelSize = 3

// Params is a complete, versioned parameter bundle for the encoder and the
// detection head. A bundle is tied to one grid shape.
type Params struct {
	Version   string        `json:"version"`
	Shape     csi.GridShape `json:"shape"`
	PoolBands int           `json:"pool_bands"`
	Amplitude BranchParams  `json:"amplitude"`
	Phase     BranchParams  `json:"phase"`
	Fusion    DenseParams   `json:"fusion"`
	Head      HeadParams    `json:"head"`
}

// BranchParams parameterises one feature branch: convolution kernels over
// the pair × subcarrier image, band pooling, then a dense projection.
type BranchParams struct {
	Kernels    [][KernelSize * KernelSize]float64 `json:"kernels"`
	KernelBias []float64                          `json:"kernel_bias"`
	Dense      DenseParams                        `json:"dense"`
}

// DenseParams is a row-major weight matrix and bias vector.
type DenseParams struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// HeadParams parameterises the detection head, one entry per person slot.
type HeadParams struct {
	Slots []SlotParams `json:"slots"`
}

// SlotParams describes one person slot of the detection head.
type SlotParams struct {
	Presence     []float64    `json:"presence"`
	PresenceBias float64      `json:"presence_bias"`
	Origin       csi.Keypoint `json:"origin"`
	// Keypoints maps the embedding to per-coordinate offsets from the
	// standing pose: 3 rows (x, y, z) per keypoint.
	Keypoints  DenseParams `json:"keypoints"`
	Confidence DenseParams `json:"confidence"`
}

// BranchDim is the output width of each branch.
func (p *Params) BranchDim() int { return len(p.Amplitude.Dense.Bias) }

// EmbeddingDim is the width of the fused embedding.
func (p *Params) EmbeddingDim() int { return len(p.Fusion.Bias) }

// pooledFeatures is the input width of a branch's dense layer.
func (p *Params) pooledFeatures(b *BranchParams) int {
	return len(b.Kernels) * p.Shape.Pairs() * p.PoolBands
}

// Validate checks every matrix against the declared shape and widths.
func (p *Params) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("params: version is required")
	}
	if err := p.Shape.Validate(); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if p.PoolBands <= 0 || p.PoolBands > p.Shape.Subcarriers {
		return fmt.Errorf("params: pool_bands must be in [1, %d], got %d", p.Shape.Subcarriers, p.PoolBands)
	}
	for name, b := range map[string]*BranchParams{"amplitude": &p.Amplitude, "phase": &p.Phase} {
		if len(b.Kernels) == 0 {
			return fmt.Errorf("params: %s branch has no kernels", name)
		}
		if len(b.KernelBias) != len(b.Kernels) {
			return fmt.Errorf("params: %s branch has %d kernel biases for %d kernels", name, len(b.KernelBias), len(b.Kernels))
		}
		if err := b.Dense.check(name+" dense", p.pooledFeatures(b)); err != nil {
			return err
		}
	}
	if p.Amplitude.Dense.rows() != p.Phase.Dense.rows() {
		return fmt.Errorf("params: branch widths differ: amplitude %d, phase %d",
			p.Amplitude.Dense.rows(), p.Phase.Dense.rows())
	}
	if err := p.Fusion.check("fusion", 2*p.BranchDim()); err != nil {
		return err
	}
	dim := p.EmbeddingDim()
	if dim == 0 {
		return fmt.Errorf("params: fusion has no outputs")
	}
	if len(p.Head.Slots) == 0 {
		return fmt.Errorf("params: detection head has no slots")
	}
	for i, s := range p.Head.Slots {
		if len(s.Presence) != dim {
			return fmt.Errorf("params: slot %d presence has %d weights, want %d", i, len(s.Presence), dim)
		}
		if err := s.Keypoints.check(fmt.Sprintf("slot %d keypoints", i), dim); err != nil {
			return err
		}
		if s.Keypoints.rows() != 3*csi.NumKeypoints {
			return fmt.Errorf("params: slot %d keypoints has %d rows, want %d", i, s.Keypoints.rows(), 3*csi.NumKeypoints)
		}
		if err := s.Confidence.check(fmt.Sprintf("slot %d confidence", i), dim); err != nil {
			return err
		}
		if s.Confidence.rows() != csi.NumKeypoints {
			return fmt.Errorf("params: slot %d confidence has %d rows, want %d", i, s.Confidence.rows(), csi.NumKeypoints)
		}
	}
	return nil
}

func (d *DenseParams) rows() int { return len(d.Weights) }

func (d *DenseParams) check(name string, cols int) error {
	if len(d.Weights) == 0 {
		return fmt.Errorf("params: %s has no rows", name)
	}
	if len(d.Bias) != len(d.Weights) {
		return fmt.Errorf("params: %s has %d biases for %d rows", name, len(d.Bias), len(d.Weights))
	}
	for r, row := range d.Weights {
		if len(row) != cols {
			return fmt.Errorf("params: %s row %d has %d columns, want %d", name, r, len(row), cols)
		}
	}
	return nil
}

// flat returns the weights as one row-major slice for mat.NewDense.
func (d *DenseParams) flat() []float64 {
	out := make([]float64, 0, len(d.Weights)*len(d.Weights[0]))
	for _, row := range d.Weights {
		out = append(out, row...)
	}
	return out
}

// maxParamsFileSize caps parameter files read at startup.
const maxParamsFileSize = 64 * 1024 * 1024

// LoadParams reads and validates a JSON parameter bundle.
func LoadParams(path string) (*Params, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("params file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat params file: %w", err)
	}
	if info.Size() > maxParamsFileSize {
		return nil, fmt.Errorf("params file too large: %d bytes (max %d)", info.Size(), maxParamsFileSize)
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open params file: %w", err)
	}
	defer f.Close()
	return ReadParams(f)
}

// ReadParams decodes and validates a JSON parameter bundle.
func ReadParams(r io.Reader) (*Params, error) {
	var p Params
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse params JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteParams encodes p as indented JSON.
func WriteParams(w io.Writer, p *Params) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
