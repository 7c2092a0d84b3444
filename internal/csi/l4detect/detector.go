package l4detect

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l3encoder"
)

// Detection is one unassigned person hypothesis.
type Detection struct {
	Slot               int
	Confidence         float64
	Keypoints          []csi.Keypoint
	KeypointConfidence []float64
	// Embedding is the fused vector the detection was read from.
	Embedding []float64
}

// MeanConfidence is the mean keypoint confidence.
func (d *Detection) MeanConfidence() float64 {
	if len(d.KeypointConfidence) == 0 {
		return 0
	}
	return floats.Sum(d.KeypointConfidence) / float64(len(d.KeypointConfidence))
}

// Config holds the detection thresholds.
type Config struct {
	DetectionThreshold  float64 // Minimum slot presence (default: 0.5)
	KeypointThreshold   float64 // Confidence at which a keypoint counts as visible (default: 0.5)
	MinKeypointFraction float64 // Visible fraction required to accept a detection (default: 0.3)
	MaxPersons          int     // Slots evaluated per frame (default: 4)
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		DetectionThreshold:  cfg.GetDetectionThreshold(),
		KeypointThreshold:   cfg.GetKeypointThreshold(),
		MinKeypointFraction: cfg.GetMinKeypointFraction(),
		MaxPersons:          cfg.GetMaxPersons(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DetectionThreshold < 0 || c.DetectionThreshold > 1 {
		return fmt.Errorf("DetectionThreshold must be in [0, 1], got %f", c.DetectionThreshold)
	}
	if c.KeypointThreshold < 0 || c.KeypointThreshold > 1 {
		return fmt.Errorf("KeypointThreshold must be in [0, 1], got %f", c.KeypointThreshold)
	}
	if c.MinKeypointFraction < 0 || c.MinKeypointFraction > 1 {
		return fmt.Errorf("MinKeypointFraction must be in [0, 1], got %f", c.MinKeypointFraction)
	}
	if c.MaxPersons <= 0 {
		return fmt.Errorf("MaxPersons must be positive, got %d", c.MaxPersons)
	}
	return nil
}

type slot struct {
	presence     *mat.VecDense
	presenceBias float64
	origin       csi.Keypoint
	keypoints    *mat.Dense
	keypointBias *mat.VecDense
	confidence   *mat.Dense
	confBias     *mat.VecDense
}

// Detector is the detection head. It is immutable and safe for concurrent
// use.
type Detector struct {
	cfg   Config
	dim   int
	slots []slot
}

// NewDetector prepares the head from the slot parameters of a bundle.
// Only the first MaxPersons slots are evaluated.
func NewDetector(cfg *Config, params *l3encoder.Params) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	dim := params.EmbeddingDim()
	n := len(params.Head.Slots)
	if cfg.MaxPersons < n {
		n = cfg.MaxPersons
	}
	d := &Detector{cfg: *cfg, dim: dim, slots: make([]slot, n)}
	for i := range d.slots {
		sp := params.Head.Slots[i]
		d.slots[i] = slot{
			presence:     mat.NewVecDense(dim, append([]float64(nil), sp.Presence...)),
			presenceBias: sp.PresenceBias,
			origin:       sp.Origin,
			keypoints:    denseOf(sp.Keypoints),
			keypointBias: mat.NewVecDense(len(sp.Keypoints.Bias), append([]float64(nil), sp.Keypoints.Bias...)),
			confidence:   denseOf(sp.Confidence),
			confBias:     mat.NewVecDense(len(sp.Confidence.Bias), append([]float64(nil), sp.Confidence.Bias...)),
		}
	}
	return d, nil
}

func denseOf(p l3encoder.DenseParams) *mat.Dense {
	rows, cols := len(p.Weights), len(p.Weights[0])
	data := make([]float64, 0, rows*cols)
	for _, r := range p.Weights {
		data = append(data, r...)
	}
	return mat.NewDense(rows, cols, data)
}

// Dim returns the embedding width the head expects.
func (d *Detector) Dim() int { return d.dim }

// Detect evaluates every slot and returns the detections that pass both
// the presence threshold and the visible-keypoint fraction, in slot order.
func (d *Detector) Detect(emb *csi.FusedEmbedding) ([]Detection, error) {
	if len(emb.Vector) != d.dim {
		return nil, &csi.EstimatorConfigError{Component: "detection head", Want: d.dim, Got: len(emb.Vector)}
	}
	z := mat.NewVecDense(d.dim, emb.Vector)

	var out []Detection
	for i := range d.slots {
		s := &d.slots[i]
		presence := sigmoid(mat.Dot(s.presence, z) + s.presenceBias)
		if presence < d.cfg.DetectionThreshold {
			continue
		}

		var conf mat.VecDense
		conf.MulVec(s.confidence, z)
		conf.AddVec(&conf, s.confBias)
		kc := make([]float64, csi.NumKeypoints)
		visible := 0
		for k := range kc {
			kc[k] = sigmoid(conf.AtVec(k))
			if kc[k] >= d.cfg.KeypointThreshold {
				visible++
			}
		}
		if float64(visible) < d.cfg.MinKeypointFraction*csi.NumKeypoints {
			continue
		}

		var off mat.VecDense
		off.MulVec(s.keypoints, z)
		off.AddVec(&off, s.keypointBias)
		kps := make([]csi.Keypoint, csi.NumKeypoints)
		for k, base := range csi.StandingPose {
			kps[k] = csi.Keypoint{
				X: s.origin.X + base.X + off.AtVec(3*k),
				Y: s.origin.Y + base.Y + off.AtVec(3*k+1),
				Z: s.origin.Z + base.Z + off.AtVec(3*k+2),
			}
		}

		out = append(out, Detection{
			Slot:               i,
			Confidence:         presence,
			Keypoints:          kps,
			KeypointConfidence: kc,
			Embedding:          append([]float64(nil), emb.Vector...),
		})
	}
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
