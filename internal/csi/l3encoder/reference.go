package l3encoder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// ReferenceVersion names the built-in parameter bundle.
const ReferenceVersion = "reference-v1"

// Reference bundle widths.
const (
	referenceKernels   = 4
	referenceBands     = 4
	referenceBranchDim = 16
	referenceEmbedDim  = 32
	referenceSlots     = 4
	referenceSlotPitch = 1.5 // metres between slot origins along X
)

// Reference activity gains. Row 0 of each branch measures mean absolute
// activity; the fused row 0 mixes both into a single occupancy channel in
// (-1, 1). The detection head reads presence and keypoint confidence from
// that channel.
const (
	amplitudeGain    = 2.0
	phaseGain        = 8.0
	activityBias     = -1.0
	fusionScale      = 1.5
	fusionAmpWeight  = 0.6
	fusionPhsWeight  = 0.4
	presenceGain     = 6.0
	extraSlotBias    = -9.0
	confidenceGain   = 4.0
	keypointSpread   = 0.02
	confidenceSpread = 0.1
)

// ReferenceParams builds the deterministic built-in bundle for shape.
//
// The structured rows make the bundle usable without a trained model: the
// first two kernels are ±identity so that their rectified sum is |x|, and
// the first dense row of each branch averages that magnitude. All other
// rows are fixed pseudo-random projections that carry pose detail. Only
// slot 0 can fire; additional occupants need a trained bundle.
func ReferenceParams(shape csi.GridShape) *Params {
	bands := referenceBands
	if shape.Subcarriers < bands {
		bands = shape.Subcarriers
	}
	p := &Params{
		Version:   ReferenceVersion,
		Shape:     shape,
		PoolBands: bands,
	}
	p.Amplitude = referenceBranch(shape, bands, amplitudeGain, 1)
	p.Phase = referenceBranch(shape, bands, phaseGain, 2)
	p.Fusion = referenceFusion()
	p.Head = referenceHead()
	return p
}

func newNormal(sigma float64, seed uint64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(0x5eed, seed)}
}

func referenceBranch(shape csi.GridShape, bands int, gain float64, seed uint64) BranchParams {
	b := BranchParams{
		Kernels: [][KernelSize * KernelSize]float64{
			{0, 0, 0, 0, 1, 0, 0, 0, 0},
			{0, 0, 0, 0, -1, 0, 0, 0, 0},
			{0, 0, 0, -0.5, 0, 0.5, 0, 0, 0},
			{0, 0, 0, 0.5, 0, -0.5, 0, 0, 0},
		},
		KernelBias: make([]float64, referenceKernels),
	}

	cols := referenceKernels * shape.Pairs() * bands
	perCell := shape.Pairs() * bands
	dist := newNormal(0.5/math.Sqrt(float64(cols)), seed)

	b.Dense.Weights = make([][]float64, referenceBranchDim)
	b.Dense.Bias = make([]float64, referenceBranchDim)
	for r := range b.Dense.Weights {
		row := make([]float64, cols)
		if r == 0 {
			// Kernels 0 and 1 occupy the first 2*perCell columns.
			for c := 0; c < 2*perCell; c++ {
				row[c] = gain / float64(perCell)
			}
			b.Dense.Bias[r] = activityBias
		} else {
			for c := range row {
				row[c] = dist.Rand()
			}
		}
		b.Dense.Weights[r] = row
	}
	return b
}

func referenceFusion() DenseParams {
	cols := 2 * referenceBranchDim
	dist := newNormal(1/math.Sqrt(float64(cols)), 3)
	d := DenseParams{
		Weights: make([][]float64, referenceEmbedDim),
		Bias:    make([]float64, referenceEmbedDim),
	}
	for r := range d.Weights {
		row := make([]float64, cols)
		if r == 0 {
			row[0] = fusionScale * fusionAmpWeight
			row[referenceBranchDim] = fusionScale * fusionPhsWeight
		} else {
			for c := range row {
				row[c] = dist.Rand()
			}
		}
		d.Weights[r] = row
	}
	return d
}

func referenceHead() HeadParams {
	kp := newNormal(keypointSpread, 4)
	cf := newNormal(confidenceSpread, 5)
	pr := newNormal(confidenceSpread, 6)

	h := HeadParams{Slots: make([]SlotParams, referenceSlots)}
	for s := range h.Slots {
		slot := SlotParams{
			Presence: make([]float64, referenceEmbedDim),
			Origin:   csi.Keypoint{X: referenceSlotPitch * float64(s)},
		}
		slot.Presence[0] = presenceGain
		if s > 0 {
			slot.PresenceBias = extraSlotBias
			for c := 1; c < referenceEmbedDim; c++ {
				slot.Presence[c] = pr.Rand()
			}
		}

		slot.Keypoints.Weights = make([][]float64, 3*csi.NumKeypoints)
		slot.Keypoints.Bias = make([]float64, 3*csi.NumKeypoints)
		for r := range slot.Keypoints.Weights {
			row := make([]float64, referenceEmbedDim)
			for c := 1; c < referenceEmbedDim; c++ {
				row[c] = kp.Rand()
			}
			slot.Keypoints.Weights[r] = row
		}

		slot.Confidence.Weights = make([][]float64, csi.NumKeypoints)
		slot.Confidence.Bias = make([]float64, csi.NumKeypoints)
		for r := range slot.Confidence.Weights {
			row := make([]float64, referenceEmbedDim)
			row[0] = confidenceGain
			for c := 1; c < referenceEmbedDim; c++ {
				row[c] = cf.Rand()
			}
			slot.Confidence.Weights[r] = row
		}
		h.Slots[s] = slot
	}
	return h
}
