package l5tracks

import (
	"math/rand/v2"
	"testing"
)

func totalCost(cost [][]float64, result []int) float64 {
	total := 0.0
	for i, j := range result {
		if j >= 0 {
			total += cost[i][j]
		}
	}
	return total
}

func TestHungarianAssign_Empty(t *testing.T) {
	if result := HungarianAssign(nil); result != nil {
		t.Errorf("expected nil for empty cost matrix, got %v", result)
	}
}

func TestHungarianAssign_Optimal(t *testing.T) {
	tests := []struct {
		name     string
		cost     [][]float64
		want     float64
		assigned int
	}{
		{"single", [][]float64{{5}}, 5, 1},
		{"square 3x3", [][]float64{{1, 2, 3}, {4, 4, 6}, {9, 8, 5}}, 10, 3},
		{"square 4x4", [][]float64{{10, 5, 7, 1}, {8, 9, 2, 6}, {7, 3, 11, 5}, {4, 12, 8, 9}}, 10, 4},
		{"more rows", [][]float64{{1, 10}, {10, 1}, {5, 5}}, 2, 2},
		{"more cols", [][]float64{{10, 1, 5}, {5, 10, 1}}, 2, 2},
		{"all zero", [][]float64{{0, 0}, {0, 0}}, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := HungarianAssign(tt.cost)
			if len(result) != len(tt.cost) {
				t.Fatalf("expected %d assignments, got %d", len(tt.cost), len(result))
			}
			assigned := 0
			seen := map[int]bool{}
			for _, j := range result {
				if j < 0 {
					continue
				}
				if seen[j] {
					t.Errorf("column %d assigned twice: %v", j, result)
				}
				seen[j] = true
				assigned++
			}
			if assigned != tt.assigned {
				t.Errorf("expected %d assigned rows, got %d (result: %v)", tt.assigned, assigned, result)
			}
			if got := totalCost(tt.cost, result); got != tt.want {
				t.Errorf("expected optimal cost %v, got %v (assignments: %v)", tt.want, got, result)
			}
		})
	}
}

func TestHungarianAssign_Forbidden(t *testing.T) {
	cost := [][]float64{
		{1, 2},
		{hungarianInf, hungarianInf},
	}
	result := HungarianAssign(cost)
	if result[0] < 0 {
		t.Errorf("row 0 should be assigned, got %d", result[0])
	}
	if result[1] != -1 {
		t.Errorf("row 1 should be unassigned (-1), got %d", result[1])
	}
}

func TestHungarianAssign_CheapestOfContestedColumn(t *testing.T) {
	// Both rows can only use column 0; the cheaper row must get it even
	// though it is processed second.
	cost := [][]float64{
		{5, hungarianInf},
		{1, hungarianInf},
	}
	result := HungarianAssign(cost)
	if result[0] != -1 || result[1] != 0 {
		t.Errorf("expected [-1 0], got %v", result)
	}
}

func TestHungarianAssign_PrefersMoreMatches(t *testing.T) {
	// Pairing row 0 with column 0 is cheapest alone but strands row 1.
	cost := [][]float64{
		{1, 4},
		{2, hungarianInf},
	}
	result := HungarianAssign(cost)
	if result[0] != 1 || result[1] != 0 {
		t.Errorf("expected [1 0], got %v", result)
	}
}

func TestHungarianAssign_NoColumns(t *testing.T) {
	result := HungarianAssign([][]float64{{}, {}})
	for i, j := range result {
		if j != -1 {
			t.Errorf("row %d should be -1 (no columns), got %d", i, j)
		}
	}
}

func TestAssociators_ForbiddenPairs(t *testing.T) {
	cost := [][]float64{
		{Forbidden, 0.3},
		{Forbidden, Forbidden},
	}
	for _, a := range []Associator{GreedyAssociator{}, HungarianAssociator{}} {
		got := a.Associate(cost, []float64{0.9, 0.9})
		if got[0] != 1 || got[1] != -1 {
			t.Errorf("%s: expected [1 -1], got %v", a.Name(), got)
		}
	}
}

func TestAssociators_ConfidenceTieBreak(t *testing.T) {
	// Both detections cost the same for the only track; the more
	// confident one must win regardless of column order.
	cost := [][]float64{{0.5, 0.5}}
	for _, a := range []Associator{GreedyAssociator{}, HungarianAssociator{}} {
		if got := a.Associate(cost, []float64{0.6, 0.9}); got[0] != 1 {
			t.Errorf("%s: expected detection 1, got %v", a.Name(), got)
		}
		if got := a.Associate(cost, []float64{0.9, 0.6}); got[0] != 0 {
			t.Errorf("%s: expected detection 0, got %v", a.Name(), got)
		}
	}
}

func TestAssociators_GreedyVersusOptimal(t *testing.T) {
	cost := [][]float64{
		{1, 2},
		{1.5, 3},
	}
	conf := []float64{0.9, 0.9}

	greedy := GreedyAssociator{}.Associate(cost, conf)
	if greedy[0] != 0 || greedy[1] != 1 {
		t.Errorf("greedy: expected [0 1], got %v", greedy)
	}
	optimal := HungarianAssociator{}.Associate(cost, conf)
	if optimal[0] != 1 || optimal[1] != 0 {
		t.Errorf("hungarian: expected [1 0], got %v", optimal)
	}
}

func TestAssociators_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 50; trial++ {
		rows, cols := 1+rng.IntN(6), 1+rng.IntN(6)
		cost := make([][]float64, rows)
		for i := range cost {
			cost[i] = make([]float64, cols)
			for j := range cost[i] {
				// Coarse values so ties are common.
				cost[i][j] = float64(rng.IntN(4)) / 2
				if rng.IntN(5) == 0 {
					cost[i][j] = Forbidden
				}
			}
		}
		conf := make([]float64, cols)
		for j := range conf {
			conf[j] = float64(rng.IntN(3)) / 2
		}

		for _, a := range []Associator{GreedyAssociator{}, HungarianAssociator{}} {
			first := a.Associate(cost, conf)
			for rep := 0; rep < 3; rep++ {
				again := a.Associate(cost, conf)
				for i := range first {
					if first[i] != again[i] {
						t.Fatalf("%s trial %d: run %d gave %v, first run gave %v", a.Name(), trial, rep, again, first)
					}
				}
			}
		}
	}
}

func TestNewAssociator(t *testing.T) {
	for _, name := range []string{"hungarian", "greedy"} {
		a, err := NewAssociator(name)
		if err != nil {
			t.Fatalf("NewAssociator(%q): %v", name, err)
		}
		if a.Name() != name {
			t.Errorf("expected %q, got %q", name, a.Name())
		}
	}
	if _, err := NewAssociator("auction"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
