package csi

import (
	"fmt"
	"time"
)

// GridShape is the antenna-pair × subcarrier layout of a session.
type GridShape struct {
	Tx          int `json:"tx"`
	Rx          int `json:"rx"`
	Subcarriers int `json:"subcarriers"`
}

// Pairs returns the number of transmit/receive antenna pairs.
func (s GridShape) Pairs() int { return s.Tx * s.Rx }

// Cells returns the number of complex samples in one frame.
func (s GridShape) Cells() int { return s.Tx * s.Rx * s.Subcarriers }

// Index returns the row-major offset of (tx, rx, sc).
func (s GridShape) Index(tx, rx, sc int) int {
	return (tx*s.Rx+rx)*s.Subcarriers + sc
}

// Validate reports whether every dimension is positive.
func (s GridShape) Validate() error {
	if s.Tx <= 0 || s.Rx <= 0 || s.Subcarriers <= 0 {
		return fmt.Errorf("grid shape must be positive, got %s", s)
	}
	return nil
}

func (s GridShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Tx, s.Rx, s.Subcarriers)
}

// Frame is one raw CSI snapshot. Samples and Valid are row-major over
// (tx, rx, subcarrier). Missing entries are marked with Valid[i] == false;
// their sample value carries no meaning.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Shape     GridShape
	Samples   []complex128
	Valid     []bool
}

// NewFrame allocates a frame with every cell marked invalid.
func NewFrame(seq uint64, ts time.Time, shape GridShape) *Frame {
	return &Frame{
		Seq:       seq,
		Timestamp: ts,
		Shape:     shape,
		Samples:   make([]complex128, shape.Cells()),
		Valid:     make([]bool, shape.Cells()),
	}
}

// Set stores a sample and marks the cell valid.
func (f *Frame) Set(tx, rx, sc int, v complex128) {
	i := f.Shape.Index(tx, rx, sc)
	f.Samples[i] = v
	f.Valid[i] = true
}

// ValidCount returns the number of valid cells.
func (f *Frame) ValidCount() int {
	n := 0
	for _, ok := range f.Valid {
		if ok {
			n++
		}
	}
	return n
}

// CheckLayout verifies the slice lengths agree with the declared shape.
func (f *Frame) CheckLayout() error {
	want := f.Shape.Cells()
	if len(f.Samples) != want || len(f.Valid) != want {
		return fmt.Errorf("frame %d: %d samples / %d mask entries for shape %s",
			f.Seq, len(f.Samples), len(f.Valid), f.Shape)
	}
	return nil
}

// Clone returns a deep copy, for taps that retain frames after handoff.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Samples = append([]complex128(nil), f.Samples...)
	c.Valid = append([]bool(nil), f.Valid...)
	return &c
}

// ConditionedFrame holds sanitised phase and normalised amplitude for one
// Frame. Both tensors share the frame's shape and layout. All values are
// finite.
type ConditionedFrame struct {
	Seq       uint64
	Timestamp time.Time
	Shape     GridShape
	Phase     []float64
	Amplitude []float64
	Valid     []bool
}

// Clone returns a deep copy.
func (c *ConditionedFrame) Clone() *ConditionedFrame {
	out := *c
	out.Phase = append([]float64(nil), c.Phase...)
	out.Amplitude = append([]float64(nil), c.Amplitude...)
	out.Valid = append([]bool(nil), c.Valid...)
	return &out
}

// FusedEmbedding is the encoder output for one conditioned frame.
type FusedEmbedding struct {
	Seq          uint64
	Timestamp    time.Time
	ModelVersion string
	Vector       []float64
	// Reused is set when the vector was carried over from an earlier frame
	// after an inference failure.
	Reused bool
}

// Keypoint is a 3D joint position in metres, room frame.
type Keypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TrackID identifies a person track for its whole life.
type TrackID uint64

// PoseEstimate is the pose of one track at one timestamp.
type PoseEstimate struct {
	TrackID    TrackID    `json:"track_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Keypoints  []Keypoint `json:"keypoints"`
	Confidence []float64  `json:"confidence"`
}

// LifecycleEvent is reported to sinks when a track changes existence state.
type LifecycleEvent int

const (
	Spawned LifecycleEvent = iota + 1
	Confirmed
	Retired
)

func (e LifecycleEvent) String() string {
	switch e {
	case Spawned:
		return "spawned"
	case Confirmed:
		return "confirmed"
	case Retired:
		return "retired"
	default:
		return fmt.Sprintf("LifecycleEvent(%d)", int(e))
	}
}

// TrackEvent pairs a lifecycle event with its track and frame time.
type TrackEvent struct {
	TrackID   TrackID
	Event     LifecycleEvent
	Timestamp time.Time
}
