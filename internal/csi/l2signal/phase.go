package l2signal

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const twoPi = 2 * math.Pi

// UnwrapPhase removes 2π discontinuities from a subcarrier-ordered phase
// sequence: whenever adjacent values differ by more than π, the rest of
// the sequence is shifted by the multiple of 2π that brings the step into
// (-π, π]. A sequence with no step above π is returned unchanged, so the
// operation is idempotent.
func UnwrapPhase(phase []float64) []float64 {
	out := make([]float64, len(phase))
	if len(phase) == 0 {
		return out
	}
	out[0] = phase[0]
	for k := 1; k < len(phase); k++ {
		out[k] = out[k-1] + wrapStep(phase[k]-phase[k-1])
	}
	return out
}

// wrapStep maps a phase step into (-π, π], leaving steps already inside
// that range bit-for-bit unchanged.
func wrapStep(d float64) float64 {
	if d > math.Pi || d <= -math.Pi {
		d -= twoPi * math.Round(d/twoPi)
		if d <= -math.Pi {
			d += twoPi
		}
	}
	return d
}

// RemoveLinearPhase fits y = intercept + slope·x by least squares over the
// entries with valid[i] set and returns the fit. Fewer than two valid
// points yield a zero fit. valid may be nil to use every point.
func RemoveLinearPhase(x, y []float64, valid []bool) (intercept, slope float64) {
	weights := make([]float64, len(x))
	n := 0
	for i := range x {
		if valid == nil || valid[i] {
			weights[i] = 1
			n++
		}
	}
	if n < 2 {
		return 0, 0
	}
	intercept, slope = stat.LinearRegression(x, y, weights, false)
	if math.IsNaN(intercept) || math.IsNaN(slope) {
		return 0, 0
	}
	return intercept, slope
}

// sanitisePairPhase unwraps the valid phases of one antenna pair, fills
// invalid subcarriers by linear interpolation in the unwrapped domain, and
// subtracts the least-squares line across subcarriers. It reports false
// when fewer than two subcarriers are valid.
func sanitisePairPhase(raw []float64, valid []bool, xs, out []float64) bool {
	idx := make([]int, 0, len(raw))
	vals := make([]float64, 0, len(raw))
	for k, ok := range valid {
		if ok {
			idx = append(idx, k)
			vals = append(vals, raw[k])
		}
	}
	if len(idx) < 2 {
		return false
	}
	vals = UnwrapPhase(vals)

	// Scatter back and interpolate the gaps. Ends hold the nearest value.
	for j, k := range idx {
		out[k] = vals[j]
		if j == 0 {
			for e := 0; e < k; e++ {
				out[e] = vals[0]
			}
			continue
		}
		prev := idx[j-1]
		for g := prev + 1; g < k; g++ {
			t := float64(g-prev) / float64(k-prev)
			out[g] = vals[j-1] + t*(vals[j]-vals[j-1])
		}
	}
	last := idx[len(idx)-1]
	for e := last + 1; e < len(out); e++ {
		out[e] = vals[len(vals)-1]
	}

	intercept, slope := RemoveLinearPhase(xs, out, valid)
	for k := range out {
		out[k] -= intercept + slope*xs[k]
	}
	return true
}
