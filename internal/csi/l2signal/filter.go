package l2signal

import "math"

// biquad holds normalised second-order section coefficients (a0 == 1).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// butterworthQ gives a maximally flat second-order response.
const butterworthQ = 1 / math.Sqrt2

// lowPass designs a second-order Butterworth low-pass section by the
// bilinear transform.
func lowPass(cutoffHz, sampleRateHz float64) biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRateHz
	cosw, alpha := math.Cos(w0), math.Sin(w0)/(2*butterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// highPass designs a second-order Butterworth high-pass section by the
// bilinear transform.
func highPass(cutoffHz, sampleRateHz float64) biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRateHz
	cosw, alpha := math.Cos(w0), math.Sin(w0)/(2*butterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// dcGain is the section's response to a constant input.
func (q biquad) dcGain() float64 {
	return (q.b0 + q.b1 + q.b2) / (1 + q.a1 + q.a2)
}

// sectionState is the Direct-Form-II-transposed delay line of one section.
type sectionState struct {
	z1, z2 float64
}

// prime sets the delay line to the steady state reached after an infinite
// run of x, and returns the matching output.
func (s *sectionState) prime(q biquad, x float64) float64 {
	y := q.dcGain() * x
	s.z1 = y - q.b0*x
	s.z2 = q.b2*x - q.a2*y
	return y
}

func (s *sectionState) step(q biquad, x float64) float64 {
	y := q.b0*x + s.z1
	s.z1 = q.b1*x - q.a1*y + s.z2
	s.z2 = q.b2*x - q.a2*y
	return y
}

// cellFilter is the temporal filter history of one grid cell for one
// signal (phase or amplitude).
type cellFilter struct {
	sections [2]sectionState
	primed   bool
	last     float64
}

// filterChain is the configured cascade: low-pass, then high-pass. A nil
// entry is a disabled section.
type filterChain struct {
	sections [2]*biquad
}

func newFilterChain(cfg *Config) filterChain {
	var fc filterChain
	if cfg.LowPassHz > 0 {
		q := lowPass(cfg.LowPassHz, cfg.SampleRateHz)
		fc.sections[0] = &q
	}
	if cfg.HighPassHz > 0 {
		q := highPass(cfg.HighPassHz, cfg.SampleRateHz)
		fc.sections[1] = &q
	}
	return fc
}

// apply runs x through the cascade and advances the cell history. The
// first sample primes every section to steady state so a session starts
// without a transient.
func (fc filterChain) apply(cf *cellFilter, x float64) float64 {
	y := x
	for i, q := range fc.sections {
		if q == nil {
			continue
		}
		if !cf.primed {
			y = cf.sections[i].prime(*q, y)
		} else {
			y = cf.sections[i].step(*q, y)
		}
	}
	cf.primed = true
	cf.last = y
	return y
}
