// Package monitor serves a debug view of a running pipeline: counters,
// the track registry, a live subcarrier amplitude heatmap and a plot of
// per-track confidence over time.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l5tracks"
	"github.com/hkevin01/wifi-radar/internal/csi/pipeline"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// PipelineView is the part of a pipeline the monitor reads.
type PipelineView interface {
	Stats() pipeline.Stats
	Snapshot() *l5tracks.Snapshot
}

// Options size the monitor's history buffers.
type Options struct {
	HeatmapRows   int // Conditioned frames kept for the heatmap (default: 200)
	TrackHistory  int // Confidence samples kept per track (default: 400)
	MaxEventCount int // Lifecycle events kept (default: 100)
	Clock         timeutil.Clock
}

// DefaultOptions returns the default history sizes.
func DefaultOptions() Options {
	return Options{HeatmapRows: 200, TrackHistory: 400, MaxEventCount: 100}
}

type confidenceSample struct {
	At         time.Time
	Confidence float64
}

// Monitor collects recent pipeline output for the debug pages. Install
// ObserveConditioned as the pipeline's conditioned-frame tap and add the
// Monitor to the sink chain.
type Monitor struct {
	opts     Options
	pipeline PipelineView

	mu         sync.Mutex
	shape      csi.GridShape
	amplitude  [][]float64 // per frame, mean normalised amplitude per subcarrier
	frameSeqs  []uint64
	confidence map[csi.TrackID][]confidenceSample
	events     []csi.TrackEvent
	start      time.Time

	extraMu sync.RWMutex
	extra   map[string]func() any
}

var _ csi.Sink = (*Monitor)(nil)

// New creates a monitor over p. p may be nil until SetPipeline is called.
func New(p PipelineView, opts Options) *Monitor {
	def := DefaultOptions()
	if opts.HeatmapRows <= 0 {
		opts.HeatmapRows = def.HeatmapRows
	}
	if opts.TrackHistory <= 0 {
		opts.TrackHistory = def.TrackHistory
	}
	if opts.MaxEventCount <= 0 {
		opts.MaxEventCount = def.MaxEventCount
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Monitor{
		opts:       opts,
		pipeline:   p,
		confidence: make(map[csi.TrackID][]confidenceSample),
		extra:      make(map[string]func() any),
	}
}

// SetPipeline sets the pipeline whose counters and registry are served.
func (m *Monitor) SetPipeline(p PipelineView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = p
}

// AddStats registers another component's counters under name in the
// stats page.
func (m *Monitor) AddStats(name string, fn func() any) {
	m.extraMu.Lock()
	defer m.extraMu.Unlock()
	m.extra[name] = fn
}

// ObserveConditioned records one conditioned frame for the heatmap.
func (m *Monitor) ObserveConditioned(c *csi.ConditionedFrame) {
	row := subcarrierProfile(c)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Shape != m.shape {
		m.shape = c.Shape
		m.amplitude = nil
		m.frameSeqs = nil
	}
	m.amplitude = append(m.amplitude, row)
	m.frameSeqs = append(m.frameSeqs, c.Seq)
	if over := len(m.amplitude) - m.opts.HeatmapRows; over > 0 {
		m.amplitude = m.amplitude[over:]
		m.frameSeqs = m.frameSeqs[over:]
	}
}

// subcarrierProfile averages the valid amplitudes of every link pair per
// subcarrier. A subcarrier with no valid cell reads 0.
func subcarrierProfile(c *csi.ConditionedFrame) []float64 {
	n := c.Shape.Subcarriers
	sum := make([]float64, n)
	count := make([]int, n)
	for pair := 0; pair < c.Shape.Pairs(); pair++ {
		for sc := 0; sc < n; sc++ {
			i := pair*n + sc
			if i < len(c.Valid) && c.Valid[i] {
				sum[sc] += c.Amplitude[i]
				count[sc]++
			}
		}
	}
	for sc := range sum {
		if count[sc] > 0 {
			sum[sc] /= float64(count[sc])
		}
	}
	return sum
}

func (m *Monitor) OnPoseUpdate(ts time.Time, poses []csi.PoseEstimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() {
		m.start = ts
	}
	for _, p := range poses {
		mean := 0.0
		for _, c := range p.Confidence {
			mean += c
		}
		if len(p.Confidence) > 0 {
			mean /= float64(len(p.Confidence))
		}
		h := append(m.confidence[p.TrackID], confidenceSample{At: ts, Confidence: mean})
		if over := len(h) - m.opts.TrackHistory; over > 0 {
			h = h[over:]
		}
		m.confidence[p.TrackID] = h
	}
}

func (m *Monitor) OnTrackLifecycle(id csi.TrackID, ev csi.LifecycleEvent, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, csi.TrackEvent{TrackID: id, Event: ev, Timestamp: ts})
	if over := len(m.events) - m.opts.MaxEventCount; over > 0 {
		m.events = m.events[over:]
	}
	tracef("track %d %s", id, ev)
}

// Events returns the most recent lifecycle events, oldest first.
func (m *Monitor) Events() []csi.TrackEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]csi.TrackEvent(nil), m.events...)
}

type heatmapView struct {
	shape csi.GridShape
	seqs  []uint64
	rows  [][]float64
}

func (m *Monitor) heatmap() heatmapView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return heatmapView{
		shape: m.shape,
		seqs:  append([]uint64(nil), m.frameSeqs...),
		rows:  append([][]float64(nil), m.amplitude...),
	}
}

type trackSeries struct {
	id      csi.TrackID
	samples []confidenceSample
}

// confidenceSeries returns per-track history in ascending track order,
// plus the time origin for the x axis.
func (m *Monitor) confidenceSeries() ([]trackSeries, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]trackSeries, 0, len(m.confidence))
	for id, h := range m.confidence {
		out = append(out, trackSeries{id: id, samples: append([]confidenceSample(nil), h...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, m.start
}

func (m *Monitor) view() PipelineView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipeline
}
