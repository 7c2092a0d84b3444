package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// Options tune the background writer.
type Options struct {
	Buffer        int           // Rows queued before new ones are dropped (default: 1024)
	BatchSize     int           // Rows per transaction (default: 256)
	FlushInterval time.Duration // Longest a row waits before being written (default: 1s)
	Clock         timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

type row struct {
	frame *csi.Frame
	event *csi.TrackEvent
	poses []csi.PoseEstimate
}

// Recorder writes the frames, poses and lifecycle events of one session
// to a Store. Its methods never block the caller; rows that do not fit in
// the buffer are counted and discarded.
//
// Install RecordFrame as the pipeline's frame tap and the Recorder itself
// as one of its sinks.
type Recorder struct {
	store   *Store
	session *Session
	opts    Options

	rows    chan row
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool

	written atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64
}

// NewRecorder starts the writer for session.
func NewRecorder(store *Store, session *Session, opts Options) *Recorder {
	opts = opts.withDefaults()
	r := &Recorder{
		store:   store,
		session: session,
		opts:    opts,
		rows:    make(chan row, opts.Buffer),
		done:    make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Session returns the session being recorded.
func (r *Recorder) Session() *Session { return r.session }

// RecordFrame queues a raw frame. The frame must not be modified afterwards.
func (r *Recorder) RecordFrame(f *csi.Frame) {
	r.enqueue(row{frame: f})
}

func (r *Recorder) OnPoseUpdate(_ time.Time, poses []csi.PoseEstimate) {
	if len(poses) == 0 {
		return
	}
	r.enqueue(row{poses: append([]csi.PoseEstimate(nil), poses...)})
}

func (r *Recorder) OnTrackLifecycle(id csi.TrackID, ev csi.LifecycleEvent, ts time.Time) {
	r.enqueue(row{event: &csi.TrackEvent{TrackID: id, Event: ev, Timestamp: ts}})
}

func (r *Recorder) enqueue(rw row) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.rows <- rw:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			opsf("recorder buffer full, %d rows dropped so far", n)
		}
	}
}

// RecorderStats counts rows handled by a Recorder.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

// Stats returns the current counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{Written: r.written.Load(), Dropped: r.dropped.Load(), Errors: r.errs.Load()}
}

// Close stops accepting rows, writes everything still queued and waits for
// the writer to finish or ctx to be done.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.rows)
	}
	r.closeMu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	ticker := r.opts.Clock.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := &Batch{}
	flush := func() {
		if batch.Len() == 0 {
			return
		}
		n := batch.Len()
		if err := r.store.Write(context.Background(), r.session.ID, batch); err != nil {
			r.errs.Add(1)
			r.dropped.Add(uint64(n))
			opsf("failed to write %d rows for session %s: %v", n, r.session.ID, err)
		} else {
			r.written.Add(uint64(n))
			tracef("wrote %d rows for session %s", n, r.session.ID)
		}
		batch = &Batch{}
	}

	for {
		select {
		case rw, ok := <-r.rows:
			if !ok {
				flush()
				diagf("session %s closed: %+v", r.session.ID, r.Stats())
				return
			}
			switch {
			case rw.frame != nil:
				batch.Frames = append(batch.Frames, rw.frame)
			case rw.event != nil:
				batch.Events = append(batch.Events, *rw.event)
			default:
				batch.Poses = append(batch.Poses, rw.poses...)
			}
			if batch.Len() >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C():
			flush()
		}
	}
}
