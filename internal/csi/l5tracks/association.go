package l5tracks

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/hkevin01/wifi-radar/internal/config"
)

// Forbidden marks a track/detection pair that must never be matched.
var Forbidden = math.Inf(1)

// Associator matches tracks to detections.
//
// cost[i][j] is the cost of giving detection j to track i, with rows in
// ascending track ID order; entries equal to Forbidden are never matched.
// confidence[j] is the raw confidence of detection j. The result has one
// entry per track: the matched detection index, or -1.
//
// Implementations must be deterministic, and when two detections cost the
// same for a track they must prefer the one with higher confidence.
type Associator interface {
	Name() string
	Associate(cost [][]float64, confidence []float64) []int
}

// NewAssociator returns the strategy registered under name.
func NewAssociator(name string) (Associator, error) {
	switch name {
	case config.AssociationHungarian:
		return HungarianAssociator{}, nil
	case config.AssociationGreedy:
		return GreedyAssociator{}, nil
	default:
		return nil, fmt.Errorf("unknown association strategy %q", name)
	}
}

func unassigned(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

// GreedyAssociator repeatedly takes the cheapest remaining pair. Ties are
// broken by higher detection confidence, then lower track row, then lower
// detection index.
type GreedyAssociator struct{}

func (GreedyAssociator) Name() string { return config.AssociationGreedy }

func (GreedyAssociator) Associate(cost [][]float64, confidence []float64) []int {
	type pair struct {
		track, det int
		cost, conf float64
	}
	var pairs []pair
	for i, row := range cost {
		for j, c := range row {
			if c >= Forbidden || math.IsNaN(c) {
				continue
			}
			pairs = append(pairs, pair{i, j, c, confidence[j]})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.cost != pb.cost {
			return pa.cost < pb.cost
		}
		if pa.conf != pb.conf {
			return pa.conf > pb.conf
		}
		if pa.track != pb.track {
			return pa.track < pb.track
		}
		return pa.det < pb.det
	})

	result := unassigned(len(cost))
	taken := make(map[int]bool)
	for _, p := range pairs {
		if result[p.track] >= 0 || taken[p.det] {
			continue
		}
		result[p.track] = p.det
		taken[p.det] = true
	}
	return result
}

// HungarianAssociator minimises total cost over all matches.
type HungarianAssociator struct{}

// tieBreakEpsilon is far below any meaningful cost difference. Adding
// tieBreakEpsilon·(1 - confidence) to each entry makes equal-cost
// alternatives resolve toward the more confident detection.
const tieBreakEpsilon = 1e-9

func (HungarianAssociator) Name() string { return config.AssociationHungarian }

func (HungarianAssociator) Associate(cost [][]float64, confidence []float64) []int {
	biased := make([][]float64, len(cost))
	for i, row := range cost {
		biased[i] = make([]float64, len(row))
		for j, c := range row {
			if c >= Forbidden || math.IsNaN(c) {
				biased[i][j] = hungarianInf
				continue
			}
			biased[i][j] = c + tieBreakEpsilon*(1-confidence[j])
		}
	}
	return HungarianAssign(biased)
}

// hungarianInf and above marks a forbidden cell in HungarianAssign input.
const hungarianInf = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix. It returns the column given to each row, or -1 for rows left
// unmatched. Cells at or above hungarianInf are forbidden. The number of
// matched rows is maximised first and their total cost second.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		return unassigned(n)
	}

	colOf := shortestAugmentingPaths(paddedCost(cost, n, m))
	result := unassigned(n)
	for i := range result {
		if j := colOf[i]; j < m && j < len(cost[i]) && allowed(cost[i][j]) {
			result[i] = j
		}
	}
	return result
}

func allowed(c float64) bool { return c < hungarianInf && !math.IsNaN(c) }

// paddedCost squares up cost. Forbidden and padding cells get a penalty
// larger than any difference between two sums of allowed cells, so giving
// up an allowed match never lowers the total.
func paddedCost(cost [][]float64, n, m int) *mat.Dense {
	penalty := 1.0
	for _, row := range cost {
		for _, c := range row {
			if allowed(c) {
				penalty += 2 * math.Abs(c)
			}
		}
	}
	dim := max(n, m)
	out := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			c := penalty
			if i < n && j < m && j < len(cost[i]) && allowed(cost[i][j]) {
				c = cost[i][j]
			}
			out.Set(i, j, c)
		}
	}
	return out
}

// shortestAugmentingPaths assigns every row of the square matrix c to a
// distinct column at minimum total cost. Rows join one at a time through
// a Dijkstra search over reduced costs c(i,j) - u[i] - v[j], which the
// potential updates keep non-negative.
func shortestAugmentingPaths(c *mat.Dense) []int {
	dim, _ := c.Dims()
	u := make([]float64, dim)
	v := make([]float64, dim)
	colOf := unassigned(dim)
	rowOf := unassigned(dim)

	dist := make([]float64, dim)
	from := make([]int, dim) // row preceding each column on the current path
	seenCol := make([]bool, dim)
	seenRow := make([]bool, dim)

	for root := 0; root < dim; root++ {
		for k := 0; k < dim; k++ {
			dist[k] = math.Inf(1)
			seenCol[k] = false
			seenRow[k] = false
		}

		i, reach, sink := root, 0.0, -1
		for sink < 0 {
			seenRow[i] = true
			best := -1
			for j := 0; j < dim; j++ {
				if seenCol[j] {
					continue
				}
				if d := reach + c.At(i, j) - u[i] - v[j]; d < dist[j] {
					dist[j] = d
					from[j] = i
				}
				// Prefer a free column on ties; it ends the search sooner.
				if best < 0 || dist[j] < dist[best] || (dist[j] == dist[best] && rowOf[j] < 0 && rowOf[best] >= 0) {
					best = j
				}
			}
			reach = dist[best]
			seenCol[best] = true
			if rowOf[best] < 0 {
				sink = best
			} else {
				i = rowOf[best]
			}
		}

		u[root] += reach
		for r := 0; r < dim; r++ {
			if seenRow[r] && r != root {
				u[r] += reach - dist[colOf[r]]
			}
		}
		for j := 0; j < dim; j++ {
			if seenCol[j] {
				v[j] -= reach - dist[j]
			}
		}

		for j := sink; ; {
			r := from[j]
			rowOf[j] = r
			colOf[r], j = j, colOf[r]
			if r == root {
				break
			}
		}
	}
	return colOf
}
