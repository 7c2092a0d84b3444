package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hkevin01/wifi-radar/internal/config"
)

type entry[T any] struct {
	seq uint64
	v   T
}

// Queue is a bounded FIFO between two stages. It has exactly one producer
// and one consumer.
type Queue[T any] struct {
	name    string
	mode    string
	ch      chan entry[T]
	pushed  uint64 // producer only
	dropped atomic.Uint64
	onDrop  func(item T, total uint64)

	// merge folds dropped items into the next item Pop returns. dropMu
	// makes removing an item and recording it in carry one step, as seen
	// by Pop.
	merge  func(older, newer T) T
	dropMu sync.Mutex
	carry  []entry[T]
}

// NewQueue returns a queue holding at most capacity items. mode is one of
// config.BackpressureLatencyFirst or config.BackpressureCompletenessFirst.
// onDrop, if non-nil, is called by the producer for every dropped item.
func NewQueue[T any](name, mode string, capacity int, onDrop func(item T, total uint64)) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{name: name, mode: mode, ch: make(chan entry[T], capacity), onDrop: onDrop}
}

// SetMerge installs a function that folds each item discarded in
// latency-first mode into the first later item Pop returns, so the parts
// of an item that must not be lost ride along with a successor. It must
// be called before the first Push.
func (q *Queue[T]) SetMerge(merge func(older, newer T) T) { q.merge = merge }

// Name returns the queue name used in logs and errors.
func (q *Queue[T]) Name() string { return q.name }

// Len returns the number of pending items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped returns the number of items discarded so far.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Push enqueues v.
//
// In completeness-first mode Push blocks until there is room or ctx is
// done, and never discards anything. In latency-first mode Push never
// waits for the consumer: when the queue is full the oldest pending item
// is discarded to make room.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	q.pushed++
	e := entry[T]{seq: q.pushed, v: v}
	if q.mode != config.BackpressureLatencyFirst {
		select {
		case q.ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.ch <- e:
			return nil
		default:
		}
		// Full. The consumer may take an item concurrently, in which case
		// there is nothing to drop and the next send succeeds.
		q.dropOldest()
	}
}

func (q *Queue[T]) dropOldest() {
	q.dropMu.Lock()
	var (
		old     entry[T]
		removed bool
	)
	select {
	case old = <-q.ch:
		removed = true
		if q.merge != nil {
			q.carry = append(q.carry, old)
		}
	default:
	}
	q.dropMu.Unlock()

	if removed {
		total := q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(old.v, total)
		}
	}
}

// Pop dequeues the next item. ok is false once the queue is closed and
// drained, or when ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	var e entry[T]
	select {
	case e, ok = <-q.ch:
	case <-ctx.Done():
		return v, false
	}
	if !ok {
		return v, false
	}
	if q.merge == nil {
		return e.v, true
	}
	return q.absorb(e), true
}

// absorb folds the carried items older than e into it. Every item dropped
// ahead of e left the channel before e did, so it is already in carry once
// dropMu is free. Items dropped since are newer and wait for a later Pop.
func (q *Queue[T]) absorb(e entry[T]) T {
	q.dropMu.Lock()
	defer q.dropMu.Unlock()
	n := 0
	for n < len(q.carry) && q.carry[n].seq < e.seq {
		n++
	}
	if n == 0 {
		return e.v
	}
	acc := q.carry[0].v
	for _, c := range q.carry[1:n] {
		acc = q.merge(acc, c.v)
	}
	q.carry = append(q.carry[:0], q.carry[n:]...)
	return q.merge(acc, e.v)
}

// Close marks the end of input. Pending items can still be popped.
// Only the producer may call Close.
func (q *Queue[T]) Close() { close(q.ch) }
