// Package pipeline runs the CSI processing chain as a bounded-latency
// stream.
//
// It is the composition root for L2-L5: the source reader, conditioner,
// encoder, estimator and sink dispatcher each run on their own goroutine
// and hand frames to the next stage through a bounded Queue. None of the
// layer packages import pipeline.
//
// A full queue either blocks its producer (completeness-first) or drops
// its oldest pending item (latency-first). Every drop is counted, logged
// on the ops stream and reported to the Observer.
package pipeline
