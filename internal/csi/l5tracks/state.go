package l5tracks

import (
	"math"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l4detect"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // Spawned, fewer than MinConfirmFrames consecutive matches
	TrackConfirmed TrackState = "confirmed" // Matched this frame, emitting poses
	TrackStale     TrackState = "stale"     // Confirmed track counting toward the silence timeout
	TrackRetired   TrackState = "retired"   // Removed from the registry at the end of the frame
)

// RecurrentParams controls the per-track recurrent update.
type RecurrentParams struct {
	Retention  float64 // ρ: weight of the previous hidden state on a match
	Continuity float64 // λ: weight of the previous keypoints on a match
	Decay      float64 // δ: multiplier applied to state on a miss
}

// RecurrentState is the temporal memory of one track. Transitions are pure:
// Advance and Decay return a new value and never modify their input.
type RecurrentState struct {
	Hidden     []float64
	Keypoints  []csi.Keypoint
	Confidence []float64
	// Presence is the detection-level confidence carried between frames.
	Presence float64
}

// NewRecurrentState seeds a state from the detection that spawned a track.
func NewRecurrentState(det *l4detect.Detection) RecurrentState {
	return RecurrentState{
		Hidden:     append([]float64(nil), det.Embedding...),
		Keypoints:  append([]csi.Keypoint(nil), det.Keypoints...),
		Confidence: append([]float64(nil), det.KeypointConfidence...),
		Presence:   det.Confidence,
	}
}

// Advance folds a matched detection into s.
//
// The hidden state follows H' = tanh(ρ·H + (1-ρ)·z). Each keypoint is a
// blend of the previous estimate and the detection weighted by
// λ·c_prev and (1-λ)·c_det, so a confident history holds a jittery
// low-confidence detection in place while a confident detection moves it.
func Advance(s RecurrentState, det *l4detect.Detection, p RecurrentParams) RecurrentState {
	out := RecurrentState{
		Hidden:     make([]float64, len(s.Hidden)),
		Keypoints:  make([]csi.Keypoint, len(det.Keypoints)),
		Confidence: make([]float64, len(det.KeypointConfidence)),
		Presence:   det.Confidence,
	}
	for i, h := range s.Hidden {
		out.Hidden[i] = math.Tanh(p.Retention*h + (1-p.Retention)*det.Embedding[i])
	}

	for k, d := range det.Keypoints {
		cd := det.KeypointConfidence[k]
		if k >= len(s.Keypoints) {
			out.Keypoints[k] = d
			out.Confidence[k] = cd
			continue
		}
		cp := s.Confidence[k]
		wp := p.Continuity * cp
		wd := (1 - p.Continuity) * cd
		if wp+wd <= 0 {
			out.Keypoints[k] = d
		} else {
			a := wd / (wp + wd)
			prev := s.Keypoints[k]
			out.Keypoints[k] = csi.Keypoint{
				X: prev.X + a*(d.X-prev.X),
				Y: prev.Y + a*(d.Y-prev.Y),
				Z: prev.Z + a*(d.Z-prev.Z),
			}
		}
		out.Confidence[k] = p.Continuity*cp + (1-p.Continuity)*cd
	}
	return out
}

// Decay returns s after a frame without a match: hidden state and
// confidences shrink by δ, keypoints stay where they were.
func Decay(s RecurrentState, p RecurrentParams) RecurrentState {
	out := RecurrentState{
		Hidden:     make([]float64, len(s.Hidden)),
		Keypoints:  append([]csi.Keypoint(nil), s.Keypoints...),
		Confidence: make([]float64, len(s.Confidence)),
		Presence:   p.Decay * s.Presence,
	}
	for i, h := range s.Hidden {
		out.Hidden[i] = p.Decay * h
	}
	for k, c := range s.Confidence {
		out.Confidence[k] = p.Decay * c
	}
	return out
}

func (s RecurrentState) clone() RecurrentState {
	return RecurrentState{
		Hidden:     append([]float64(nil), s.Hidden...),
		Keypoints:  append([]csi.Keypoint(nil), s.Keypoints...),
		Confidence: append([]float64(nil), s.Confidence...),
		Presence:   s.Presence,
	}
}

// PersonTrack is one tracked person.
type PersonTrack struct {
	ID    csi.TrackID
	State TrackState

	// Lifecycle counters
	Hits   int // Consecutive matches
	Misses int // Consecutive misses

	FirstSeen time.Time
	LastSeen  time.Time

	// History holds the most recent smoothed keypoint sets, oldest first.
	History [][]csi.Keypoint

	Recurrent RecurrentState
}

func (t *PersonTrack) clone() *PersonTrack {
	c := *t
	c.History = make([][]csi.Keypoint, len(t.History))
	for i, h := range t.History {
		c.History[i] = append([]csi.Keypoint(nil), h...)
	}
	c.Recurrent = t.Recurrent.clone()
	return &c
}

func (t *PersonTrack) recordHistory(max int) {
	if max <= 0 {
		return
	}
	t.History = append(t.History, append([]csi.Keypoint(nil), t.Recurrent.Keypoints...))
	if len(t.History) > max {
		t.History = t.History[len(t.History)-max:]
	}
}

// Pose returns the track's current estimate as emitted to sinks.
func (t *PersonTrack) Pose(ts time.Time) csi.PoseEstimate {
	conf := make([]float64, len(t.Recurrent.Confidence))
	for i, c := range t.Recurrent.Confidence {
		conf[i] = math.Max(0, math.Min(1, c))
	}
	return csi.PoseEstimate{
		TrackID:    t.ID,
		Timestamp:  ts,
		Keypoints:  append([]csi.Keypoint(nil), t.Recurrent.Keypoints...),
		Confidence: conf,
	}
}
