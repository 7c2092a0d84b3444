package csi

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrShapeMismatch: frame grid differs from the session grid. The frame
	// is dropped; processing continues.
	ErrShapeMismatch = errors.New("csi: shape mismatch")
	// ErrInference: the encoder produced non-finite output.
	ErrInference = errors.New("csi: inference error")
	// ErrEstimatorConfig: embedding dimensionality does not match the
	// estimator. Fatal.
	ErrEstimatorConfig = errors.New("csi: estimator config error")
	// ErrSourceTimeout: no frame arrived within the source deadline.
	ErrSourceTimeout = errors.New("csi: source timeout")
	// ErrSinkBackpressure: a bounded queue was full.
	ErrSinkBackpressure = errors.New("csi: sink backpressure")
)

// ShapeMismatchError carries the expected and received grid shapes.
type ShapeMismatchError struct {
	Seq  uint64
	Want GridShape
	Got  GridShape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("csi: frame %d shape %s does not match session shape %s", e.Seq, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// InferenceError reports which encoder stage produced a non-finite value.
type InferenceError struct {
	Seq   uint64
	Stage string
	Index int
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("csi: frame %d: non-finite %s output at index %d", e.Seq, e.Stage, e.Index)
}

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// EstimatorConfigError reports a dimensionality disagreement between the
// loaded parameters and the data flowing through the estimator.
type EstimatorConfigError struct {
	Component string
	Want      int
	Got       int
}

func (e *EstimatorConfigError) Error() string {
	return fmt.Sprintf("csi: %s expects dimension %d, got %d", e.Component, e.Want, e.Got)
}

func (e *EstimatorConfigError) Is(target error) bool { return target == ErrEstimatorConfig }

// BackpressureError is reported to observers whenever a queue drops a frame.
type BackpressureError struct {
	Queue   string
	Seq     uint64
	Dropped uint64
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("csi: queue %s full, dropped frame %d (%d total)", e.Queue, e.Seq, e.Dropped)
}

func (e *BackpressureError) Is(target error) bool { return target == ErrSinkBackpressure }

// IsFatal reports whether err must halt the pipeline. Per-frame errors
// (shape, inference, timeout, backpressure) are recovered locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrShapeMismatch),
		errors.Is(err, ErrInference),
		errors.Is(err, ErrSourceTimeout),
		errors.Is(err, ErrSinkBackpressure):
		return false
	}
	return true
}
