package l5tracks

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l4detect"
)

// Config holds the tracker parameters.
type Config struct {
	MinConfirmFrames int    // Consecutive matches needed for confirmation (default: 3)
	MaxSilenceFrames int    // Consecutive misses before a confirmed track retires (default: 5)
	MaxTracks        int    // Maximum number of live tracks (default: 16)
	MaxHistory       int    // Keypoint sets retained per track (default: 30)
	Association      string // "hungarian" or "greedy"
	Weights          CostWeights
	MaxCost          float64 // Pairs costing more than this are never matched (default: 2)
	Recurrent        RecurrentParams
}

// DefaultConfig returns tracker configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found; intended for
// tests.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		MinConfirmFrames: cfg.GetMinConfirmFrames(),
		MaxSilenceFrames: cfg.GetMaxSilenceFrames(),
		MaxTracks:        cfg.GetMaxTracks(),
		MaxHistory:       cfg.GetMaxHistory(),
		Association:      cfg.GetAssociation(),
		Weights: CostWeights{
			Keypoint:   cfg.GetCostWeightKeypoint(),
			Confidence: cfg.GetCostWeightConfidence(),
			Embedding:  cfg.GetCostWeightEmbedding(),
		},
		MaxCost: cfg.GetMaxAssociationCost(),
		Recurrent: RecurrentParams{
			Retention:  cfg.GetHiddenRetention(),
			Continuity: cfg.GetContinuity(),
			Decay:      cfg.GetMissDecay(),
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MinConfirmFrames < 1 {
		return fmt.Errorf("MinConfirmFrames must be at least 1, got %d", c.MinConfirmFrames)
	}
	if c.MaxSilenceFrames < 1 {
		return fmt.Errorf("MaxSilenceFrames must be at least 1, got %d", c.MaxSilenceFrames)
	}
	if c.MaxTracks < 1 {
		return fmt.Errorf("MaxTracks must be at least 1, got %d", c.MaxTracks)
	}
	if c.MaxHistory < 0 {
		return fmt.Errorf("MaxHistory must be non-negative, got %d", c.MaxHistory)
	}
	if c.Weights.Keypoint < 0 || c.Weights.Confidence < 0 || c.Weights.Embedding < 0 {
		return fmt.Errorf("cost weights must be non-negative, got %+v", c.Weights)
	}
	if c.MaxCost <= 0 {
		return fmt.Errorf("MaxCost must be positive, got %f", c.MaxCost)
	}
	r := c.Recurrent
	if r.Retention < 0 || r.Retention > 1 || r.Continuity < 0 || r.Continuity >= 1 || r.Decay < 0 || r.Decay > 1 {
		return fmt.Errorf("recurrent parameters out of range: %+v", r)
	}
	if _, err := NewAssociator(c.Association); err != nil {
		return err
	}
	return nil
}

// Totals counts lifecycle transitions since the estimator was created.
type Totals struct {
	Spawned   uint64 `json:"spawned"`
	Confirmed uint64 `json:"confirmed"`
	Retired   uint64 `json:"retired"`
}

// Snapshot is an immutable view of the registry after one frame. Tracks
// are in ascending ID order and never include retired tracks.
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time
	Tracks    []*PersonTrack
	Totals    Totals
}

// Update is the result of one Step.
type Update struct {
	Seq       uint64
	Timestamp time.Time
	Poses     []csi.PoseEstimate
	Events    []csi.TrackEvent
}

// Estimator owns the PersonTrack registry. Step is serialised; Snapshot
// may be called from any goroutine.
type Estimator struct {
	cfg   Config
	dim   int
	assoc Associator

	mu     sync.Mutex
	tracks []*PersonTrack
	nextID csi.TrackID
	totals Totals

	snapshot atomic.Pointer[Snapshot]
}

// NewEstimator creates an estimator for embeddings of width dim.
func NewEstimator(cfg *Config, dim int) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, &csi.EstimatorConfigError{Component: "estimator", Want: 1, Got: dim}
	}
	assoc, _ := NewAssociator(cfg.Association)
	e := &Estimator{cfg: *cfg, dim: dim, assoc: assoc}
	e.snapshot.Store(&Snapshot{})
	diagf("estimator: dim=%d association=%s confirm=%d silence=%d", dim, assoc.Name(), cfg.MinConfirmFrames, cfg.MaxSilenceFrames)
	return e, nil
}

// Dim returns the embedding width the estimator was built for.
func (e *Estimator) Dim() int { return e.dim }

// Snapshot returns the last committed registry view.
func (e *Estimator) Snapshot() *Snapshot { return e.snapshot.Load() }

// Reset drops every track. Track IDs are never reused.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks = nil
	e.snapshot.Store(&Snapshot{Totals: e.totals})
}

func (e *Estimator) validate(dets []l4detect.Detection) error {
	for i := range dets {
		d := &dets[i]
		if len(d.Embedding) != e.dim {
			return &csi.EstimatorConfigError{Component: "association", Want: e.dim, Got: len(d.Embedding)}
		}
		if len(d.Keypoints) != csi.NumKeypoints || len(d.KeypointConfidence) != csi.NumKeypoints {
			return &csi.EstimatorConfigError{Component: "keypoint set", Want: csi.NumKeypoints, Got: len(d.Keypoints)}
		}
	}
	return nil
}

// Step associates one frame of detections with the registry, applies the
// lifecycle transitions and commits the new registry. On error the
// registry is unchanged.
func (e *Estimator) Step(seq uint64, ts time.Time, dets []l4detect.Detection) (*Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(dets); err != nil {
		return nil, err
	}

	next := make([]*PersonTrack, len(e.tracks))
	for i, t := range e.tracks {
		next[i] = t.clone()
	}

	cost := make([][]float64, len(next))
	conf := make([]float64, len(dets))
	for j := range dets {
		conf[j] = dets[j].Confidence
	}
	for i, t := range next {
		cost[i] = make([]float64, len(dets))
		for j := range dets {
			c, err := AssociationCost(t, &dets[j], e.cfg.Weights)
			if err != nil {
				return nil, err
			}
			if c > e.cfg.MaxCost {
				c = Forbidden
			}
			cost[i][j] = c
		}
	}

	assignment := e.assoc.Associate(cost, conf)
	totals := e.totals
	up := &Update{Seq: seq, Timestamp: ts}
	emit := func(id csi.TrackID, ev csi.LifecycleEvent) {
		up.Events = append(up.Events, csi.TrackEvent{TrackID: id, Event: ev, Timestamp: ts})
	}

	matched := make([]bool, len(dets))
	for i, t := range next {
		j := assignment[i]
		if j >= 0 {
			matched[j] = true
			t.Recurrent = Advance(t.Recurrent, &dets[j], e.cfg.Recurrent)
			t.Hits++
			t.Misses = 0
			t.LastSeen = ts
			t.recordHistory(e.cfg.MaxHistory)
			switch t.State {
			case TrackTentative:
				if t.Hits >= e.cfg.MinConfirmFrames {
					t.State = TrackConfirmed
					totals.Confirmed++
					emit(t.ID, csi.Confirmed)
					diagf("track %d confirmed after %d hits", t.ID, t.Hits)
				}
			case TrackStale:
				t.State = TrackConfirmed
				tracef("track %d re-matched", t.ID)
			}
			continue
		}

		t.Recurrent = Decay(t.Recurrent, e.cfg.Recurrent)
		t.Hits = 0
		t.Misses++
		switch t.State {
		case TrackTentative:
			t.State = TrackRetired
		case TrackConfirmed, TrackStale:
			t.State = TrackStale
			if t.Misses >= e.cfg.MaxSilenceFrames {
				t.State = TrackRetired
			}
		}
		if t.State == TrackRetired {
			totals.Retired++
			emit(t.ID, csi.Retired)
			diagf("track %d retired after %d misses", t.ID, t.Misses)
		}
	}

	live := next[:0]
	for _, t := range next {
		if t.State != TrackRetired {
			live = append(live, t)
		}
	}
	next = live

	nextID := e.nextID
	for j := range dets {
		if matched[j] {
			continue
		}
		if len(next) >= e.cfg.MaxTracks {
			opsf("frame %d: track limit %d reached, detection in slot %d not tracked", seq, e.cfg.MaxTracks, dets[j].Slot)
			break
		}
		nextID++
		t := &PersonTrack{
			ID:        nextID,
			State:     TrackTentative,
			Hits:      1,
			FirstSeen: ts,
			LastSeen:  ts,
			Recurrent: NewRecurrentState(&dets[j]),
		}
		t.recordHistory(e.cfg.MaxHistory)
		totals.Spawned++
		emit(t.ID, csi.Spawned)
		if t.Hits >= e.cfg.MinConfirmFrames {
			t.State = TrackConfirmed
			totals.Confirmed++
			emit(t.ID, csi.Confirmed)
		}
		next = append(next, t)
	}

	for _, t := range next {
		if t.State == TrackConfirmed {
			up.Poses = append(up.Poses, t.Pose(ts))
		}
	}

	// Commit.
	e.tracks = next
	e.nextID = nextID
	e.totals = totals
	view := make([]*PersonTrack, len(next))
	for i, t := range next {
		view[i] = t.clone()
	}
	e.snapshot.Store(&Snapshot{Seq: seq, Timestamp: ts, Tracks: view, Totals: totals})
	tracef("frame %d: %d detections, %d tracks, %d poses", seq, len(dets), len(next), len(up.Poses))
	return up, nil
}
