package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l2signal"
	"github.com/hkevin01/wifi-radar/internal/csi/l3encoder"
	"github.com/hkevin01/wifi-radar/internal/csi/l4detect"
	"github.com/hkevin01/wifi-radar/internal/csi/l5tracks"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// Queue names, as reported in Stats and BackpressureError.
const (
	QueueRaw         = "raw"
	QueueConditioned = "conditioned"
	QueueEmbedded    = "embedded"
	QueueUpdates     = "updates"
)

// Encoder is the L3 stage. *l3encoder.Encoder implements it.
type Encoder interface {
	Encode(*csi.ConditionedFrame) (*csi.FusedEmbedding, error)
	Shape() csi.GridShape
	Dim() int
}

// Options wires the stages of a pipeline. Source, Sink and the four layer
// components are required.
type Options struct {
	Config      *Config
	Source      csi.Source
	Sink        csi.Sink
	Conditioner *l2signal.Stage
	Encoder     Encoder
	Detector    *l4detect.Detector
	Estimator   *l5tracks.Estimator

	Observer Observer
	Clock    timeutil.Clock

	// FrameTap receives a copy of every frame read from the source.
	FrameTap func(*csi.Frame)
	// ConditionedTap receives a copy of every conditioned frame.
	ConditionedTap func(*csi.ConditionedFrame)
}

type rawItem struct {
	frame  *csi.Frame
	readAt time.Time
}

type condItem struct {
	frame  *csi.ConditionedFrame
	readAt time.Time
}

type embItem struct {
	emb    *csi.FusedEmbedding
	readAt time.Time
}

type updItem struct {
	up     *l5tracks.Update
	readAt time.Time
}

// Pipeline runs one session. Run may be called once.
type Pipeline struct {
	opts     Options
	cfg      Config
	observer Observer
	clock    timeutil.Clock

	raw  *Queue[rawItem]
	cond *Queue[condItem]
	emb  *Queue[embItem]
	upd  *Queue[updItem]

	stats counters

	stopOnce sync.Once
	stopCh   chan struct{}
	ran      bool
	mu       sync.Mutex
}

// New validates the wiring and allocates the stage queues. Embedding width
// disagreements between encoder, detector and estimator are reported as
// *csi.EstimatorConfigError.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Source == nil || opts.Sink == nil {
		return nil, errors.New("pipeline: source and sink are required")
	}
	if opts.Conditioner == nil || opts.Encoder == nil || opts.Detector == nil || opts.Estimator == nil {
		return nil, errors.New("pipeline: conditioner, encoder, detector and estimator are required")
	}
	if got, want := opts.Encoder.Shape(), opts.Conditioner.Shape(); got != want {
		return nil, fmt.Errorf("pipeline: encoder expects grid %s, conditioner produces %s", got, want)
	}
	if opts.Detector.Dim() != opts.Encoder.Dim() {
		return nil, &csi.EstimatorConfigError{Component: "detection head", Want: opts.Encoder.Dim(), Got: opts.Detector.Dim()}
	}
	if opts.Estimator.Dim() != opts.Encoder.Dim() {
		return nil, &csi.EstimatorConfigError{Component: "estimator", Want: opts.Encoder.Dim(), Got: opts.Estimator.Dim()}
	}

	p := &Pipeline{
		opts:     opts,
		cfg:      *opts.Config,
		observer: opts.Observer,
		clock:    opts.Clock,
		stopCh:   make(chan struct{}),
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}

	mode, capacity := p.cfg.BackpressureMode, p.cfg.QueueCapacity
	p.raw = NewQueue(QueueRaw, mode, capacity, func(it rawItem, n uint64) { p.dropped(QueueRaw, it.frame.Seq, n) })
	p.cond = NewQueue(QueueConditioned, mode, capacity, func(it condItem, n uint64) { p.dropped(QueueConditioned, it.frame.Seq, n) })
	p.emb = NewQueue(QueueEmbedded, mode, capacity, func(it embItem, n uint64) { p.dropped(QueueEmbedded, it.emb.Seq, n) })
	p.upd = NewQueue(QueueUpdates, mode, capacity, func(it updItem, n uint64) { p.dropped(QueueUpdates, it.up.Seq, n) })
	p.upd.SetMerge(mergeUpdates)
	return p, nil
}

// mergeUpdates keeps the lifecycle events of a dropped update. Only its
// poses are lost; the events are delivered ahead of newer's own.
func mergeUpdates(older, newer updItem) updItem {
	if len(older.up.Events) == 0 {
		return newer
	}
	up := *newer.up
	up.Events = make([]csi.TrackEvent, 0, len(older.up.Events)+len(newer.up.Events))
	up.Events = append(up.Events, older.up.Events...)
	up.Events = append(up.Events, newer.up.Events...)
	return updItem{up: &up, readAt: newer.readAt}
}

// NewFromTuning builds every stage from a tuning config and a parameter
// bundle.
func NewFromTuning(cfg *config.TuningConfig, params *l3encoder.Params, src csi.Source, sink csi.Sink) (*Pipeline, error) {
	cond, err := l2signal.NewConditioner(l2signal.ConfigFromTuning(cfg))
	if err != nil {
		return nil, fmt.Errorf("conditioner: %w", err)
	}
	enc, err := l3encoder.NewEncoder(params)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	det, err := l4detect.NewDetector(l4detect.ConfigFromTuning(cfg), params)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	est, err := l5tracks.NewEstimator(l5tracks.ConfigFromTuning(cfg), enc.Dim())
	if err != nil {
		return nil, fmt.Errorf("estimator: %w", err)
	}
	return New(Options{
		Config:      ConfigFromTuning(cfg),
		Source:      src,
		Sink:        sink,
		Conditioner: l2signal.NewStage(cond),
		Encoder:     enc,
		Detector:    det,
		Estimator:   est,
	})
}

// SetObserver replaces the observer. It must be called before Run.
func (p *Pipeline) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	p.observer = o
}

// SetTaps installs the frame taps. It must be called before Run.
func (p *Pipeline) SetTaps(frame func(*csi.Frame), conditioned func(*csi.ConditionedFrame)) {
	p.opts.FrameTap = frame
	p.opts.ConditionedTap = conditioned
}

func (p *Pipeline) dropped(queue string, seq, total uint64) {
	opsf("queue %s full: dropped frame %d (%d dropped so far)", queue, seq, total)
	p.observer.OnFrameError(&csi.BackpressureError{Queue: queue, Seq: seq, Dropped: total})
}

// Stop stops intake. Frames already read drain through every stage, then
// Run returns. Safe to call more than once and from any goroutine.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Snapshot returns the estimator's last committed registry.
func (p *Pipeline) Snapshot() *l5tracks.Snapshot {
	return p.opts.Estimator.Snapshot()
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := &p.stats
	return Stats{
		Received:        s.received.Load(),
		Conditioned:     s.conditioned.Load(),
		Encoded:         s.encoded.Load(),
		Reused:          s.reused.Load(),
		Estimated:       s.estimated.Load(),
		Dispatched:      s.dispatched.Load(),
		Poses:           s.poses.Load(),
		ShapeMismatches: s.shapeMismatches.Load(),
		InferenceErrors: s.inferenceErrors.Load(),
		Timeouts:        s.timeouts.Load(),
		Dropped: map[string]uint64{
			QueueRaw:         p.raw.Dropped(),
			QueueConditioned: p.cond.Dropped(),
			QueueEmbedded:    p.emb.Dropped(),
			QueueUpdates:     p.upd.Dropped(),
		},
		QueueDepth: map[string]int{
			QueueRaw:         p.raw.Len(),
			QueueConditioned: p.cond.Len(),
			QueueEmbedded:    p.emb.Len(),
			QueueUpdates:     p.upd.Len(),
		},
		LastLatency: time.Duration(s.lastLatency.Load()),
	}
}

// Run processes frames until the source reports io.EOF, Stop is called,
// ctx is cancelled, or a fatal error occurs. After a graceful end every
// frame read from the source has been dispatched to the sink, rejected, or
// dropped by a latency-first queue. Lifecycle events are never dropped: an
// update discarded from the updates queue hands its events to the next. Filter and recurrent state are
// released before Run returns.
//
// Run returns nil after a graceful end, ctx.Err() after cancellation, and
// the first fatal error otherwise.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return errors.New("pipeline: Run called twice")
	}
	p.ran = true
	p.mu.Unlock()

	diagf("starting: mode=%s capacity=%d policy=%s timeout=%s",
		p.cfg.BackpressureMode, p.cfg.QueueCapacity, p.cfg.InferencePolicy, p.cfg.SourceTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.conditionLoop(gctx) })
	g.Go(func() error { return p.encodeLoop(gctx) })
	g.Go(func() error { return p.estimateLoop(gctx) })
	g.Go(func() error { return p.dispatchLoop(gctx) })
	err := g.Wait()

	p.opts.Conditioner.Reset()
	p.opts.Estimator.Reset()

	st := p.Stats()
	diagf("stopped: received=%d dispatched=%d poses=%d mismatches=%d inference_errors=%d timeouts=%d",
		st.Received, st.Dispatched, st.Poses, st.ShapeMismatches, st.InferenceErrors, st.Timeouts)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		opsf("halted: %v", err)
		return err
	}
	return nil
}

// readLoop pulls frames from the source. Stop cancels the read in
// progress through intake, which ends the loop without aborting the
// stages downstream.
func (p *Pipeline) readLoop(ctx context.Context) error {
	defer p.raw.Close()

	intake, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-intake.Done():
		}
	}()

	for {
		if intake.Err() != nil {
			return ctx.Err()
		}
		frame, err := p.next(intake)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			diagf("source exhausted after %d frames", p.stats.received.Load())
			return nil
		case errors.Is(err, csi.ErrSourceTimeout):
			n := p.stats.timeouts.Add(1)
			tracef("source gap (%d so far)", n)
			p.observer.OnFrameError(err)
			continue
		case intake.Err() != nil:
			// Stopped or cancelled while waiting.
			return ctx.Err()
		default:
			return fmt.Errorf("source: %w", err)
		}

		p.stats.received.Add(1)
		if p.opts.FrameTap != nil {
			p.opts.FrameTap(frame.Clone())
		}
		if err := p.raw.Push(ctx, rawItem{frame: frame, readAt: p.clock.Now()}); err != nil {
			return err
		}
	}
}

// next reads one frame, bounding the wait by SourceTimeout when set.
func (p *Pipeline) next(ctx context.Context) (*csi.Frame, error) {
	if p.cfg.SourceTimeout <= 0 {
		return p.opts.Source.NextFrame(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.SourceTimeout)
	defer cancel()
	f, err := p.opts.Source.NextFrame(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("no frame within %s: %w", p.cfg.SourceTimeout, csi.ErrSourceTimeout)
	}
	return f, err
}

func (p *Pipeline) conditionLoop(ctx context.Context) error {
	defer p.cond.Close()
	for {
		it, ok := p.raw.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := p.opts.Conditioner.Process(it.frame)
		if err != nil {
			if csi.IsFatal(err) {
				return err
			}
			p.stats.shapeMismatches.Add(1)
			p.observer.OnFrameError(err)
			continue
		}
		p.stats.conditioned.Add(1)
		if p.opts.ConditionedTap != nil {
			p.opts.ConditionedTap(out.Clone())
		}
		if err := p.cond.Push(ctx, condItem{frame: out, readAt: it.readAt}); err != nil {
			return err
		}
	}
}

func (p *Pipeline) encodeLoop(ctx context.Context) error {
	defer p.emb.Close()
	var last *csi.FusedEmbedding
	for {
		it, ok := p.cond.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
		emb, err := p.opts.Encoder.Encode(it.frame)
		switch {
		case err == nil:
			last = emb
			p.stats.encoded.Add(1)
		case errors.Is(err, csi.ErrInference):
			p.stats.inferenceErrors.Add(1)
			p.observer.OnFrameError(err)
			if p.cfg.InferencePolicy != config.InferencePolicyReuseLast || last == nil {
				opsf("frame %d skipped: %v", it.frame.Seq, err)
				continue
			}
			emb = &csi.FusedEmbedding{
				Seq:          it.frame.Seq,
				Timestamp:    it.frame.Timestamp,
				ModelVersion: last.ModelVersion,
				Vector:       append([]float64(nil), last.Vector...),
				Reused:       true,
			}
			p.stats.reused.Add(1)
			opsf("frame %d: %v; reusing embedding from frame %d", it.frame.Seq, err, last.Seq)
		case csi.IsFatal(err):
			return err
		default:
			p.stats.shapeMismatches.Add(1)
			p.observer.OnFrameError(err)
			continue
		}
		if err := p.emb.Push(ctx, embItem{emb: emb, readAt: it.readAt}); err != nil {
			return err
		}
	}
}

func (p *Pipeline) estimateLoop(ctx context.Context) error {
	defer p.upd.Close()
	for {
		it, ok := p.emb.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
		dets, err := p.opts.Detector.Detect(it.emb)
		if err != nil {
			return fmt.Errorf("frame %d: %w", it.emb.Seq, err)
		}
		up, err := p.opts.Estimator.Step(it.emb.Seq, it.emb.Timestamp, dets)
		if err != nil {
			return fmt.Errorf("frame %d: %w", it.emb.Seq, err)
		}
		p.stats.estimated.Add(1)
		if err := p.upd.Push(ctx, updItem{up: up, readAt: it.readAt}); err != nil {
			return err
		}
	}
}

func (p *Pipeline) dispatchLoop(ctx context.Context) error {
	sink := p.opts.Sink
	for {
		it, ok := p.upd.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
		for _, ev := range it.up.Events {
			sink.OnTrackLifecycle(ev.TrackID, ev.Event, ev.Timestamp)
		}
		sink.OnPoseUpdate(it.up.Timestamp, it.up.Poses)

		p.stats.dispatched.Add(1)
		p.stats.poses.Add(uint64(len(it.up.Poses)))
		latency := p.clock.Since(it.readAt)
		p.stats.lastLatency.Store(int64(latency))
		tracef("frame %d dispatched: %d poses, %d events, latency %s", it.up.Seq, len(it.up.Poses), len(it.up.Events), latency)
	}
}
