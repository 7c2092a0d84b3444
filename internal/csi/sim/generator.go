package sim

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// Config controls the simulated room and radio.
type Config struct {
	Shape        csi.GridShape
	SampleRateHz float64
	Seed         uint64
	Scenario     Scenario

	ReflectorGain     float64 // Person path gain relative to line of sight (default: 0.4)
	RippleSubcarriers float64 // Subcarriers per cycle of the person path's phase slope (default: 8)
	DiffuseScale      float64 // Rayleigh scale of the diffuse scatter; 0 disables it
	TimingJitter      float64 // Largest per-frame phase slope in rad/subcarrier; 0 disables it
	DropRate          float64 // Probability that an antenna pair is missing from a frame
	Pace              bool    // Deliver frames at SampleRateHz instead of as fast as asked
}

// DefaultConfig returns a 3x3x64 room sampled at 20 Hz with a walking person.
func DefaultConfig() Config {
	return Config{
		Shape:             csi.GridShape{Tx: 3, Rx: 3, Subcarriers: 64},
		SampleRateHz:      20,
		Seed:              1,
		ReflectorGain:     0.4,
		RippleSubcarriers: 8,
		DiffuseScale:      0.02,
		TimingJitter:      0.05,
	}
}

// ConfigFromTuning takes the grid and sample rate from cfg and keeps the
// default room model.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := DefaultConfig()
	c.Shape = csi.GridShape{Tx: cfg.GetTx(), Rx: cfg.GetRx(), Subcarriers: cfg.GetSubcarriers()}
	c.SampleRateHz = cfg.GetSampleRateHz()
	return c
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if err := c.Shape.Validate(); err != nil {
		return err
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("SampleRateHz must be positive, got %f", c.SampleRateHz)
	}
	if c.ReflectorGain < 0 {
		return fmt.Errorf("ReflectorGain must be non-negative, got %f", c.ReflectorGain)
	}
	if c.RippleSubcarriers <= 0 {
		return fmt.Errorf("RippleSubcarriers must be positive, got %f", c.RippleSubcarriers)
	}
	if c.DiffuseScale < 0 || c.TimingJitter < 0 {
		return fmt.Errorf("DiffuseScale and TimingJitter must be non-negative")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("DropRate must be between 0 and 1, got %f", c.DropRate)
	}
	for i, seg := range c.Scenario {
		if seg.Frames <= 0 {
			return fmt.Errorf("scenario segment %d has %d frames", i, seg.Frames)
		}
	}
	return nil
}

// Generator produces frames for a Config. It implements csi.Source and is
// meant for a single reader.
type Generator struct {
	cfg      Config
	clock    timeutil.Clock
	start    time.Time
	interval time.Duration
	index    int

	losPhase []float64 // fixed per pair

	diffuse distuv.Weibull
	phase   distuv.Uniform
	jitter  distuv.Uniform
	drop    distuv.Bernoulli
}

// NewGenerator creates a generator. Frame timestamps start at clock.Now()
// and advance by exactly one sample interval per frame.
func NewGenerator(cfg Config, clock timeutil.Clock) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)
	g := &Generator{
		cfg:      cfg,
		clock:    clock,
		start:    clock.Now(),
		interval: time.Duration(float64(time.Second) / cfg.SampleRateHz),
		// Rayleigh(σ) is Weibull with shape 2 and scale σ√2.
		diffuse: distuv.Weibull{K: 2, Lambda: cfg.DiffuseScale * math.Sqrt2, Src: src},
		phase:   distuv.Uniform{Min: -math.Pi, Max: math.Pi, Src: src},
		jitter:  distuv.Uniform{Min: -cfg.TimingJitter, Max: cfg.TimingJitter, Src: src},
		drop:    distuv.Bernoulli{P: cfg.DropRate, Src: src},
	}
	g.losPhase = make([]float64, cfg.Shape.Pairs())
	for p := range g.losPhase {
		g.losPhase[p] = g.phase.Rand()
	}
	return g, nil
}

// Interval returns the time between frames.
func (g *Generator) Interval() time.Duration { return g.interval }

// NextFrame returns the next frame of the scenario, or io.EOF once a
// finite scenario has played out. With Pace set it waits until the
// frame's timestamp on the generator's clock.
func (g *Generator) NextFrame(ctx context.Context) (*csi.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	act, ok := g.cfg.Scenario.At(g.index)
	if !ok {
		return nil, io.EOF
	}
	ts := g.start.Add(time.Duration(g.index) * g.interval)
	if g.cfg.Pace {
		if wait := g.clock.Until(ts); wait > 0 {
			timer := g.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C():
			}
		}
	}
	f := g.frame(uint64(g.index+1), ts, act)
	g.index++
	return f, nil
}

// PersonAt returns the person's position in normalised room coordinates
// for elapsed seconds t. A standing person stays in the middle of the room.
func PersonAt(act Activity, t float64) (x, y float64, present bool) {
	switch act {
	case Standing:
		return 0.5, 0.5, true
	case Walking:
		return 0.5 + 0.3*math.Sin(0.5*t), 0.5 + 0.2*math.Cos(0.3*t), true
	default:
		return 0, 0, false
	}
}

func (g *Generator) frame(seq uint64, ts time.Time, act Activity) *csi.Frame {
	shape := g.cfg.Shape
	f := csi.NewFrame(seq, ts, shape)
	elapsed := float64(seq-1) / g.cfg.SampleRateHz
	px, py, present := PersonAt(act, elapsed)

	// One carrier offset and timing slope per frame, shared by all pairs.
	cfo := g.phase.Rand()
	slope := 0.0
	if g.cfg.TimingJitter > 0 {
		slope = g.jitter.Rand()
	}

	for tx := 0; tx < shape.Tx; tx++ {
		for rx := 0; rx < shape.Rx; rx++ {
			pair := tx*shape.Rx + rx
			if g.cfg.DropRate > 0 && g.drop.Rand() == 1 {
				continue
			}
			var gain, pathPhase float64
			if present {
				// The person shadows the pairs they stand closest to more
				// strongly, and their path length sets a constant phase term.
				ax := (float64(tx) + 0.5) / float64(shape.Tx)
				ay := (float64(rx) + 0.5) / float64(shape.Rx)
				d2 := (ax-px)*(ax-px) + (ay-py)*(ay-py)
				gain = g.cfg.ReflectorGain * (0.75 + 0.5*math.Exp(-10*d2))
				pathPhase = 4 * math.Pi * math.Sqrt(d2)
			}
			for k := 0; k < shape.Subcarriers; k++ {
				h := complex(1, 0)
				if present {
					h += cmplx.Rect(gain, 2*math.Pi*float64(k)/g.cfg.RippleSubcarriers+pathPhase)
				}
				if g.cfg.DiffuseScale > 0 {
					h += cmplx.Rect(g.diffuse.Rand(), g.phase.Rand())
				}
				h *= cmplx.Rect(1, g.losPhase[pair]+cfo+slope*float64(k))
				f.Set(tx, rx, k, h)
			}
		}
	}
	return f
}
