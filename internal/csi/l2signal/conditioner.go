package l2signal

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

// pairBaseline is the rolling amplitude baseline of one antenna pair.
type pairBaseline struct {
	Mean   float64
	Spread float64
	Seeded bool
}

// State is the conditioner memory carried between frames: the amplitude
// baselines and the temporal filter histories. Condition never mutates a
// State it is given; it returns a new one.
type State struct {
	shape    csi.GridShape
	frames   uint64
	baseline []pairBaseline
	amp      []cellFilter
	phase    []cellFilter
}

// NewState returns an empty state for shape.
func NewState(shape csi.GridShape) *State {
	return &State{
		shape:    shape,
		baseline: make([]pairBaseline, shape.Pairs()),
		amp:      make([]cellFilter, shape.Cells()),
		phase:    make([]cellFilter, shape.Cells()),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.baseline = append([]pairBaseline(nil), s.baseline...)
	c.amp = append([]cellFilter(nil), s.amp...)
	c.phase = append([]cellFilter(nil), s.phase...)
	return &c
}

// Frames returns the number of frames folded into the state.
func (s *State) Frames() uint64 { return s.frames }

// Baseline returns the amplitude baseline mean and spread of a pair.
func (s *State) Baseline(pair int) (mean, spread float64) {
	b := s.baseline[pair]
	return b.Mean, b.Spread
}

// Conditioner turns raw frames into conditioned frames for one session
// shape. It is immutable after construction and safe for concurrent use;
// all per-session memory lives in State.
type Conditioner struct {
	cfg    Config
	chain  filterChain
	xs     []float64
	smooth int
}

// NewConditioner validates cfg and builds a conditioner.
func NewConditioner(cfg *Config) (*Conditioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	xs := make([]float64, cfg.Shape.Subcarriers)
	for k := range xs {
		xs[k] = float64(k)
	}
	diagf("conditioner: shape=%s fs=%.1fHz lp=%.2fHz hp=%.2fHz alpha=%.3f clamp=%.1f smooth=%d",
		cfg.Shape, cfg.SampleRateHz, cfg.LowPassHz, cfg.HighPassHz, cfg.AmplitudeAlpha, cfg.ClampSigma, cfg.SubcarrierSmoothing)
	return &Conditioner{
		cfg:    *cfg,
		chain:  newFilterChain(cfg),
		xs:     xs,
		smooth: cfg.SubcarrierSmoothing,
	}, nil
}

// Shape returns the session grid shape.
func (c *Conditioner) Shape() csi.GridShape { return c.cfg.Shape }

// ClampBounds returns the range every output amplitude lies in.
func (c *Conditioner) ClampBounds() (lo, hi float64) {
	return -c.cfg.ClampSigma, c.cfg.ClampSigma
}

// Condition conditions one frame. prior may be nil for a fresh session.
// On error the frame is rejected and prior is returned unchanged.
func (c *Conditioner) Condition(frame *csi.Frame, prior *State) (*csi.ConditionedFrame, *State, error) {
	if prior == nil {
		prior = NewState(c.cfg.Shape)
	}
	if frame.Shape != c.cfg.Shape {
		return nil, prior, &csi.ShapeMismatchError{Seq: frame.Seq, Want: c.cfg.Shape, Got: frame.Shape}
	}
	if err := frame.CheckLayout(); err != nil {
		return nil, prior, fmt.Errorf("%w: %w", csi.ErrShapeMismatch, err)
	}

	next := prior.Clone()
	next.frames++

	shape := c.cfg.Shape
	nsc := shape.Subcarriers
	out := &csi.ConditionedFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Shape:     shape,
		Phase:     make([]float64, shape.Cells()),
		Amplitude: make([]float64, shape.Cells()),
		Valid:     make([]bool, shape.Cells()),
	}

	rawPhase := make([]float64, nsc)
	amp := make([]float64, nsc)
	phase := make([]float64, nsc)
	valid := make([]bool, nsc)

	for p := 0; p < shape.Pairs(); p++ {
		base := p * nsc
		for k := 0; k < nsc; k++ {
			v := frame.Samples[base+k]
			ok := frame.Valid[base+k] && !cmplx.IsNaN(v) && !cmplx.IsInf(v)
			valid[k] = ok
			out.Valid[base+k] = ok
			if ok {
				rawPhase[k] = cmplx.Phase(v)
				amp[k] = cmplx.Abs(v)
			}
		}

		phaseOK := sanitisePairPhase(rawPhase, valid, c.xs, phase)
		c.normalise(&next.baseline[p], amp, valid)

		for k := 0; k < nsc; k++ {
			i := base + k
			if phaseOK {
				out.Phase[i] = c.chain.apply(&next.phase[i], phase[k])
			} else {
				out.Phase[i] = next.phase[i].last
			}
			if valid[k] {
				out.Amplitude[i] = c.saturate(c.chain.apply(&next.amp[i], amp[k]))
			} else {
				out.Amplitude[i] = c.saturate(next.amp[i].last)
			}
		}

		if c.smooth > 1 {
			smoothInPlace(out.Phase[base:base+nsc], c.smooth)
			smoothInPlace(out.Amplitude[base:base+nsc], c.smooth)
		}
	}

	return out, next, nil
}

// normalise rewrites the valid amplitudes of one pair in place as clamped
// deviations from the pair baseline, in units of the baseline spread, then
// folds the clamped frame statistics into the baseline.
func (c *Conditioner) normalise(b *pairBaseline, amp []float64, valid []bool) {
	vals := make([]float64, 0, len(amp))
	for k, ok := range valid {
		if ok {
			vals = append(vals, amp[k])
		}
	}
	if len(vals) == 0 {
		return
	}

	if !b.Seeded {
		m, s := meanStd(vals)
		b.Mean, b.Spread, b.Seeded = m, s, true
		diagf("amplitude baseline seeded: mean=%.4f spread=%.4f", m, s)
	}

	spread := c.effectiveSpread(b)
	clamped := vals[:0]
	for k, ok := range valid {
		if !ok {
			continue
		}
		z := (amp[k] - b.Mean) / spread
		if z > c.cfg.ClampSigma || z < -c.cfg.ClampSigma {
			z = math.Copysign(c.cfg.ClampSigma, z)
		}
		amp[k] = z
		clamped = append(clamped, b.Mean+z*spread)
	}

	m, s := meanStd(clamped)
	alpha := c.cfg.AmplitudeAlpha
	b.Mean = (1-alpha)*b.Mean + alpha*m
	b.Spread = (1-alpha)*b.Spread + alpha*s
}

// effectiveSpread floors the spread relative to the baseline mean so a
// perfectly flat channel does not amplify noise without bound.
func (c *Conditioner) effectiveSpread(b *pairBaseline) float64 {
	floor := c.cfg.MinSpread * math.Abs(b.Mean)
	if floor < 1e-9 {
		floor = 1e-9
	}
	return math.Max(b.Spread, floor)
}

func (c *Conditioner) saturate(v float64) float64 {
	return math.Max(-c.cfg.ClampSigma, math.Min(c.cfg.ClampSigma, v))
}

func meanStd(vals []float64) (float64, float64) {
	if len(vals) == 1 {
		return vals[0], 0
	}
	m, s := stat.MeanStdDev(vals, nil)
	if math.IsNaN(s) {
		s = 0
	}
	return m, s
}

// smoothInPlace applies a centred moving average of odd width w; windows
// are truncated at the band edges.
func smoothInPlace(v []float64, w int) {
	half := w / 2
	src := append([]float64(nil), v...)
	for k := range v {
		lo, hi := k-half, k+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(src)-1 {
			hi = len(src) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += src[j]
		}
		v[k] = sum / float64(hi-lo+1)
	}
}

// Stage binds a Conditioner to the state of one running session.
// It is not safe for concurrent use.
type Stage struct {
	cond  *Conditioner
	state *State
}

// NewStage returns a stage with a fresh session state.
func NewStage(cond *Conditioner) *Stage {
	return &Stage{cond: cond, state: NewState(cond.Shape())}
}

// Process conditions frame and commits the new state. A rejected frame
// leaves the state untouched.
func (s *Stage) Process(frame *csi.Frame) (*csi.ConditionedFrame, error) {
	out, next, err := s.cond.Condition(frame, s.state)
	if err != nil {
		opsf("frame %d rejected: %v", frame.Seq, err)
		return nil, err
	}
	s.state = next
	return out, nil
}

// State returns the committed state. Callers must not modify it.
func (s *Stage) State() *State { return s.state }

// Shape returns the session grid.
func (s *Stage) Shape() csi.GridShape { return s.cond.Shape() }

// Reset releases all filter and baseline history.
func (s *Stage) Reset() {
	s.state = NewState(s.cond.Shape())
}
