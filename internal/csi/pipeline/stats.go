package pipeline

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Received        uint64            `json:"received"`
	Conditioned     uint64            `json:"conditioned"`
	Encoded         uint64            `json:"encoded"`
	Reused          uint64            `json:"reused"`
	Estimated       uint64            `json:"estimated"`
	Dispatched      uint64            `json:"dispatched"`
	Poses           uint64            `json:"poses"`
	ShapeMismatches uint64            `json:"shape_mismatches"`
	InferenceErrors uint64            `json:"inference_errors"`
	Timeouts        uint64            `json:"timeouts"`
	Dropped         map[string]uint64 `json:"dropped"`
	QueueDepth      map[string]int    `json:"queue_depth"`
	LastLatency     time.Duration     `json:"last_latency_ns"`
}

type counters struct {
	received        atomic.Uint64
	conditioned     atomic.Uint64
	encoded         atomic.Uint64
	reused          atomic.Uint64
	estimated       atomic.Uint64
	dispatched      atomic.Uint64
	poses           atomic.Uint64
	shapeMismatches atomic.Uint64
	inferenceErrors atomic.Uint64
	timeouts        atomic.Uint64
	lastLatency     atomic.Int64
}

// Observer is told about every per-frame error the pipeline recovers from:
// shape mismatches, inference failures, source timeouts and backpressure
// drops. Calls come from stage goroutines and must return promptly.
type Observer interface {
	OnFrameError(err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(err error)

func (f ObserverFunc) OnFrameError(err error) { f(err) }

type nopObserver struct{}

func (nopObserver) OnFrameError(error) {}
