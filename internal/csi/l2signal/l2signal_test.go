package l2signal

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

func testConfig() *Config {
	return &Config{
		Shape:               csi.GridShape{Tx: 2, Rx: 2, Subcarriers: 32},
		SampleRateHz:        20,
		AmplitudeAlpha:      0.1,
		ClampSigma:          4,
		MinSpread:           0.05,
		SubcarrierSmoothing: 1,
	}
}

func makeFrame(seq uint64, shape csi.GridShape, fn func(pair, sc int) complex128) *csi.Frame {
	f := csi.NewFrame(seq, time.Unix(0, int64(seq)*int64(50*time.Millisecond)), shape)
	for p := 0; p < shape.Pairs(); p++ {
		for k := 0; k < shape.Subcarriers; k++ {
			i := p*shape.Subcarriers + k
			f.Samples[i] = fn(p, k)
			f.Valid[i] = true
		}
	}
	return f
}

func mustConditioner(t *testing.T, cfg *Config) *Conditioner {
	t.Helper()
	c, err := NewConditioner(cfg)
	require.NoError(t, err)
	return c
}

func TestUnwrapPhase_RemovesWraps(t *testing.T) {
	n := 64
	truth := make([]float64, n)
	wrapped := make([]float64, n)
	for k := range truth {
		truth[k] = 2.0 + 0.9*float64(k)
		wrapped[k] = math.Remainder(truth[k], 2*math.Pi)
	}

	got := UnwrapPhase(wrapped)
	offset := got[0] - truth[0]
	for k := range got {
		assert.InDelta(t, truth[k]+offset, got[k], 1e-9, "subcarrier %d", k)
		if k > 0 {
			assert.LessOrEqual(t, math.Abs(got[k]-got[k-1]), math.Pi)
		}
	}
}

func TestUnwrapPhase_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		seq := make([]float64, 56)
		for k := range seq {
			seq[k] = (rng.Float64()*2 - 1) * math.Pi
		}
		once := UnwrapPhase(seq)
		twice := UnwrapPhase(once)
		for k := range once {
			require.InDelta(t, once[k], twice[k], 1e-9, "trial %d subcarrier %d", trial, k)
		}
	}
	assert.Empty(t, UnwrapPhase(nil))
}

func TestWrapStep(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{math.Pi + 0.1, -math.Pi + 0.1},
		{-math.Pi - 0.1, math.Pi - 0.1},
		{3 * math.Pi, math.Pi},
		{5.0, 5.0 - 2*math.Pi},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, wrapStep(tt.in), 1e-12, "wrapStep(%v)", tt.in)
	}
}

func TestRemoveLinearPhase(t *testing.T) {
	xs := make([]float64, 30)
	ys := make([]float64, 30)
	valid := make([]bool, 30)
	for k := range xs {
		xs[k] = float64(k)
		ys[k] = 0.7 - 0.25*float64(k)
		valid[k] = true
	}
	// Outliers on invalid entries must not bend the fit.
	ys[4], valid[4] = 100, false
	ys[17], valid[17] = -100, false

	intercept, slope := RemoveLinearPhase(xs, ys, valid)
	assert.InDelta(t, 0.7, intercept, 1e-9)
	assert.InDelta(t, -0.25, slope, 1e-9)

	intercept, slope = RemoveLinearPhase(xs[:1], ys[:1], nil)
	assert.Zero(t, intercept)
	assert.Zero(t, slope)
}

func TestCondition_RemovesTimingOffset(t *testing.T) {
	cfg := testConfig()
	c := mustConditioner(t, cfg)

	// Pure delay plus a common phase offset per pair: a linear phase that
	// wraps many times across the band.
	f := makeFrame(1, cfg.Shape, func(p, k int) complex128 {
		return cmplx.Rect(1, 0.4+float64(p)+1.3*float64(k))
	})
	out, _, err := c.Condition(f, nil)
	require.NoError(t, err)
	for i, v := range out.Phase {
		assert.InDelta(t, 0, v, 1e-6, "cell %d", i)
	}
	for i, v := range out.Amplitude {
		assert.InDelta(t, 0, v, 1e-9, "flat channel should normalise to zero at cell %d", i)
	}
}

func TestCondition_PhaseContinuousAndIdempotentSanitise(t *testing.T) {
	cfg := testConfig()
	c := mustConditioner(t, cfg)
	rng := rand.New(rand.NewPCG(3, 4))

	f := makeFrame(1, cfg.Shape, func(p, k int) complex128 {
		ripple := 0.3 * math.Sin(2*math.Pi*float64(k)/8)
		return cmplx.Rect(1+0.05*rng.NormFloat64(), 2.1*float64(k)+ripple)
	})
	out, _, err := c.Condition(f, nil)
	require.NoError(t, err)

	nsc := cfg.Shape.Subcarriers
	for p := 0; p < cfg.Shape.Pairs(); p++ {
		row := out.Phase[p*nsc : (p+1)*nsc]
		for k := 1; k < nsc; k++ {
			assert.LessOrEqual(t, math.Abs(row[k]-row[k-1]), math.Pi)
		}
		// Sanitising an already sanitised row changes nothing.
		again := make([]float64, nsc)
		valid := out.Valid[p*nsc : (p+1)*nsc]
		require.True(t, sanitisePairPhase(row, valid, c.xs, again))
		for k := range row {
			assert.InDelta(t, row[k], again[k], 1e-9)
		}
	}
}

func TestCondition_AmplitudeWithinClampBounds(t *testing.T) {
	cfg := testConfig()
	cfg.LowPassHz = 3
	cfg.HighPassHz = 0.2
	cfg.SubcarrierSmoothing = 3
	c := mustConditioner(t, cfg)
	lo, hi := c.ClampBounds()
	rng := rand.New(rand.NewPCG(5, 6))

	var state *State
	for seq := uint64(1); seq <= 200; seq++ {
		f := makeFrame(seq, cfg.Shape, func(p, k int) complex128 {
			a := 1 + 0.2*rng.NormFloat64()
			if rng.IntN(50) == 0 {
				a *= 1e6 // pathological spike
			}
			if rng.IntN(40) == 0 {
				a = 0
			}
			return cmplx.Rect(math.Abs(a), rng.Float64()*2*math.Pi)
		})
		out, next, err := c.Condition(f, state)
		require.NoError(t, err)
		state = next
		for i, a := range out.Amplitude {
			require.False(t, math.IsNaN(a) || math.IsInf(a, 0), "frame %d cell %d not finite", seq, i)
			require.GreaterOrEqual(t, a, lo, "frame %d cell %d", seq, i)
			require.LessOrEqual(t, a, hi, "frame %d cell %d", seq, i)
		}
		for i, ph := range out.Phase {
			require.False(t, math.IsNaN(ph) || math.IsInf(ph, 0), "frame %d cell %d phase not finite", seq, i)
		}
	}
}

func TestCondition_SpikeDoesNotPropagateIntoBaseline(t *testing.T) {
	cfg := testConfig()
	c := mustConditioner(t, cfg)
	flat := func(seq uint64) *csi.Frame {
		return makeFrame(seq, cfg.Shape, func(p, k int) complex128 {
			return complex(1+0.1*math.Sin(float64(k)), 0)
		})
	}

	_, state, err := c.Condition(flat(1), nil)
	require.NoError(t, err)
	mean0, spread0 := state.Baseline(0)

	spike := flat(2)
	spike.Samples[3] = complex(1e9, 0)
	_, state, err = c.Condition(spike, state)
	require.NoError(t, err)
	mean1, _ := state.Baseline(0)

	// At most one clamped cell moved the pair mean, by at most
	// alpha * clampSigma * spread / subcarriers.
	maxShift := cfg.AmplitudeAlpha * cfg.ClampSigma * math.Max(spread0, cfg.MinSpread*mean0)
	assert.LessOrEqual(t, math.Abs(mean1-mean0), maxShift)
}

func TestCondition_DoesNotMutatePrior(t *testing.T) {
	cfg := testConfig()
	cfg.LowPassHz = 2
	c := mustConditioner(t, cfg)
	f := makeFrame(1, cfg.Shape, func(p, k int) complex128 { return complex(1+float64(k%3), 0.5) })

	_, s1, err := c.Condition(f, nil)
	require.NoError(t, err)
	snapshot := s1.Clone()

	_, s2, err := c.Condition(makeFrame(2, cfg.Shape, func(p, k int) complex128 { return complex(3, 0) }), s1)
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, uint64(1), s1.Frames())
	assert.Equal(t, uint64(2), s2.Frames())
	assert.True(t, cmp.Equal(snapshot, s1, cmp.AllowUnexported(State{}, pairBaseline{}, cellFilter{}, sectionState{})))
}

func TestCondition_ShapeMismatch(t *testing.T) {
	cfg := testConfig()
	c := mustConditioner(t, cfg)
	prior := NewState(cfg.Shape)

	bad := makeFrame(9, csi.GridShape{Tx: 2, Rx: 2, Subcarriers: 30}, func(int, int) complex128 { return 1 })
	out, next, err := c.Condition(bad, prior)
	assert.Nil(t, out)
	assert.Same(t, prior, next)
	require.Error(t, err)
	assert.True(t, errors.Is(err, csi.ErrShapeMismatch))

	var sm *csi.ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, uint64(9), sm.Seq)
	assert.Equal(t, 30, sm.Got.Subcarriers)

	// Declared shape right, slices wrong.
	torn := makeFrame(10, cfg.Shape, func(int, int) complex128 { return 1 })
	torn.Valid = torn.Valid[:5]
	_, next, err = c.Condition(torn, prior)
	assert.Same(t, prior, next)
	assert.ErrorIs(t, err, csi.ErrShapeMismatch)
	assert.False(t, errors.As(err, &sm), "a torn frame is not reported as a different shape")
	assert.Contains(t, err.Error(), "5 mask entries")
}

// A malformed frame between two valid frames must leave no trace in the
// output of the second valid frame.
func TestStage_MalformedFrameLeavesStateUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.LowPassHz = 2.5
	cfg.SubcarrierSmoothing = 3
	c := mustConditioner(t, cfg)

	frame := func(seq uint64, gain float64) *csi.Frame {
		return makeFrame(seq, cfg.Shape, func(p, k int) complex128 {
			return cmplx.Rect(gain*(1+0.3*math.Cos(float64(k+p))), 0.2*float64(k))
		})
	}
	bad := makeFrame(2, csi.GridShape{Tx: 1, Rx: 1, Subcarriers: 32}, func(int, int) complex128 { return 50 })

	withBad := NewStage(c)
	_, err := withBad.Process(frame(1, 1))
	require.NoError(t, err)
	_, err = withBad.Process(bad)
	require.ErrorIs(t, err, csi.ErrShapeMismatch)
	gotA, err := withBad.Process(frame(3, 1.4))
	require.NoError(t, err)

	clean := NewStage(c)
	_, err = clean.Process(frame(1, 1))
	require.NoError(t, err)
	gotB, err := clean.Process(frame(3, 1.4))
	require.NoError(t, err)

	if diff := cmp.Diff(gotB, gotA); diff != "" {
		t.Errorf("malformed frame altered conditioning (-clean +withBad):\n%s", diff)
	}

	withBad.Reset()
	assert.Zero(t, withBad.State().Frames())
}

func TestCondition_InvalidCellsPropagateMask(t *testing.T) {
	cfg := testConfig()
	c := mustConditioner(t, cfg)
	f := makeFrame(1, cfg.Shape, func(p, k int) complex128 { return cmplx.Rect(1, 0.3*float64(k)) })
	f.Valid[5] = false
	f.Samples[6] = cmplx.NaN() // a NaN sample is treated as missing

	out, _, err := c.Condition(f, nil)
	require.NoError(t, err)
	assert.False(t, out.Valid[5])
	assert.False(t, out.Valid[6])
	assert.True(t, out.Valid[7])
	for i := range out.Phase {
		assert.False(t, math.IsNaN(out.Phase[i]))
		assert.False(t, math.IsNaN(out.Amplitude[i]))
	}
	// Interpolated phase across the gap stays on the detrended line.
	assert.InDelta(t, 0, out.Phase[5], 1e-6)
	assert.InDelta(t, 0, out.Phase[6], 1e-6)

	// A pair with a single valid cell holds its previous output.
	g := makeFrame(2, cfg.Shape, func(p, k int) complex128 { return 1 })
	for k := 1; k < cfg.Shape.Subcarriers; k++ {
		g.Valid[k] = false
	}
	out2, _, err := c.Condition(g, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out2.Phase[1])
}

func TestFilterDesign(t *testing.T) {
	lp := lowPass(2, 20)
	hp := highPass(0.5, 20)
	assert.InDelta(t, 1, lp.dcGain(), 1e-12)
	assert.InDelta(t, 0, hp.dcGain(), 1e-12)

	// Steady-state priming: a constant input passes with no transient.
	cfg := testConfig()
	cfg.LowPassHz = 2
	chain := newFilterChain(cfg)
	var cf cellFilter
	for i := 0; i < 20; i++ {
		assert.InDelta(t, 3.5, chain.apply(&cf, 3.5), 1e-9, "sample %d", i)
	}

	// A step settles to the new level and is smoothed on the way.
	first := chain.apply(&cf, 5)
	assert.Greater(t, first, 3.5)
	assert.Less(t, first, 5.0)
	var y float64
	for i := 0; i < 200; i++ {
		y = chain.apply(&cf, 5)
	}
	assert.InDelta(t, 5, y, 1e-6)

	// Nyquist-rate alternation is strongly attenuated.
	var alt cellFilter
	peak := 0.0
	for i := 0; i < 200; i++ {
		x := 1.0
		if i%2 == 1 {
			x = -1
		}
		v := chain.apply(&alt, x)
		if i > 100 {
			peak = math.Max(peak, math.Abs(v))
		}
	}
	assert.Less(t, peak, 0.1)
}

func TestSmoothInPlace(t *testing.T) {
	v := []float64{0, 3, 0, 3, 0}
	smoothInPlace(v, 3)
	want := []float64{1.5, 1, 2, 1, 1.5}
	assert.True(t, cmp.Equal(want, v, cmpopts.EquateApprox(0, 1e-12)), cmp.Diff(want, v))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero shape", func(c *Config) { c.Shape.Rx = 0 }},
		{"zero rate", func(c *Config) { c.SampleRateHz = 0 }},
		{"lowpass at nyquist", func(c *Config) { c.LowPassHz = 10 }},
		{"inverted band", func(c *Config) { c.LowPassHz = 1; c.HighPassHz = 2 }},
		{"alpha", func(c *Config) { c.AmplitudeAlpha = 0 }},
		{"clamp", func(c *Config) { c.ClampSigma = -1 }},
		{"spread", func(c *Config) { c.MinSpread = 0 }},
		{"even smoothing", func(c *Config) { c.SubcarrierSmoothing = 2 }},
	}
	require.NoError(t, testConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewConditioner(cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, csi.GridShape{Tx: 3, Rx: 3, Subcarriers: 64}, cfg.Shape)
	assert.Equal(t, 3, cfg.SubcarrierSmoothing)
}
