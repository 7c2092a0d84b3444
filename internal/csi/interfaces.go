package csi

import (
	"context"
	"io"
	"sync"
	"time"
)

// Source delivers raw frames. NextFrame blocks until a frame is ready, the
// context is done, or the source's own deadline passes. It returns io.EOF
// at end of stream and an error matching ErrSourceTimeout for a transient
// gap.
type Source interface {
	NextFrame(ctx context.Context) (*Frame, error)
}

// Sink consumes pose and lifecycle updates. OnPoseUpdate is invoked once
// per processed frame, possibly with an empty slice. Implementations must
// return promptly; a slow sink fills the dispatch queue.
type Sink interface {
	OnPoseUpdate(ts time.Time, poses []PoseEstimate)
	OnTrackLifecycle(id TrackID, ev LifecycleEvent, ts time.Time)
}

// MultiSink fans updates out to each sink in order.
type MultiSink []Sink

func (m MultiSink) OnPoseUpdate(ts time.Time, poses []PoseEstimate) {
	for _, s := range m {
		s.OnPoseUpdate(ts, poses)
	}
}

func (m MultiSink) OnTrackLifecycle(id TrackID, ev LifecycleEvent, ts time.Time) {
	for _, s := range m {
		s.OnTrackLifecycle(id, ev, ts)
	}
}

// SliceSource replays a fixed list of frames, then reports io.EOF.
// A nil entry yields ErrSourceTimeout, which lets tests model gaps.
type SliceSource struct {
	mu     sync.Mutex
	frames []*Frame
	next   int
}

// NewSliceSource returns a source over frames.
func NewSliceSource(frames ...*Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	if f == nil {
		return nil, ErrSourceTimeout
	}
	return f, nil
}

// RecordingSink keeps every update in memory. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	Frames []PoseUpdate
	Events []TrackEvent
}

// PoseUpdate is one OnPoseUpdate call captured by RecordingSink.
type PoseUpdate struct {
	Timestamp time.Time
	Poses     []PoseEstimate
}

func (r *RecordingSink) OnPoseUpdate(ts time.Time, poses []PoseEstimate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Frames = append(r.Frames, PoseUpdate{Timestamp: ts, Poses: append([]PoseEstimate(nil), poses...)})
}

func (r *RecordingSink) OnTrackLifecycle(id TrackID, ev LifecycleEvent, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, TrackEvent{TrackID: id, Event: ev, Timestamp: ts})
}

// Updates returns a copy of the captured pose updates.
func (r *RecordingSink) Updates() []PoseUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PoseUpdate(nil), r.Frames...)
}

// Lifecycle returns a copy of the captured lifecycle events.
func (r *RecordingSink) Lifecycle() []TrackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackEvent(nil), r.Events...)
}
