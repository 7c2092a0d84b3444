package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/pipeline"
	"github.com/hkevin01/wifi-radar/internal/httputil"
)

// echarts JS is served from the public CDN; the debug pages are not
// expected to work offline.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// AttachAdminRoutes mounts the monitor pages on the tsweb debug page.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("csi/stats", "Pipeline and component counters (JSON)", http.HandlerFunc(m.handleStats))
	debug.Handle("csi/tracks", "Track registry and recent lifecycle events (JSON)", http.HandlerFunc(m.handleTracks))
	debug.Handle("csi/heatmap", "Conditioned amplitude per subcarrier over time", http.HandlerFunc(m.handleHeatmap))
	debug.Handle("csi/confidence.png", "Per-track pose confidence over time", http.HandlerFunc(m.handleConfidencePlot))
}

// StatsResponse is the body of the csi/stats debug page.
type StatsResponse struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Pipeline    *pipeline.Stats `json:"pipeline,omitempty"`
	Components  map[string]any  `json:"components,omitempty"`
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatsResponse{GeneratedAt: m.opts.Clock.Now()}
	if p := m.view(); p != nil {
		stats := p.Stats()
		resp.Pipeline = &stats
	}
	m.extraMu.RLock()
	if len(m.extra) > 0 {
		resp.Components = make(map[string]any, len(m.extra))
		for name, fn := range m.extra {
			resp.Components[name] = fn()
		}
	}
	m.extraMu.RUnlock()
	httputil.WriteJSONOK(w, resp)
}

type trackJSON struct {
	ID        uint64         `json:"id"`
	State     string         `json:"state"`
	Hits      int            `json:"hits"`
	Misses    int            `json:"misses"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
	Keypoints []csi.Keypoint `json:"keypoints,omitempty"`
}

type eventJSON struct {
	TrackID   uint64    `json:"track_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

type tracksResponse struct {
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Tracks    []trackJSON `json:"tracks"`
	Totals    any         `json:"totals"`
	Events    []eventJSON `json:"events"`
}

func (m *Monitor) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	p := m.view()
	if p == nil {
		httputil.ServiceUnavailable(w, "pipeline not running")
		return
	}
	resp := tracksResponse{Tracks: []trackJSON{}, Events: []eventJSON{}}
	if snap := p.Snapshot(); snap != nil {
		resp.Seq = snap.Seq
		resp.Timestamp = snap.Timestamp
		resp.Totals = snap.Totals
		for _, t := range snap.Tracks {
			tj := trackJSON{
				ID:        uint64(t.ID),
				State:     string(t.State),
				Hits:      t.Hits,
				Misses:    t.Misses,
				FirstSeen: t.FirstSeen,
				LastSeen:  t.LastSeen,
			}
			if n := len(t.History); n > 0 {
				tj.Keypoints = t.History[n-1]
			}
			resp.Tracks = append(resp.Tracks, tj)
		}
	}
	for _, ev := range m.Events() {
		resp.Events = append(resp.Events, eventJSON{uint64(ev.TrackID), ev.Event.String(), ev.Timestamp})
	}
	httputil.WriteJSONOK(w, resp)
}

// handleHeatmap renders the recent conditioned amplitude, one column per
// frame and one row per subcarrier, averaged over link pairs.
// Query params:
//   - frames (optional; default all retained) to show only the newest N
func (m *Monitor) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	hm := m.heatmap()
	if len(hm.rows) == 0 {
		httputil.NotFound(w, "no conditioned frames yet")
		return
	}
	if f := r.URL.Query().Get("frames"); f != "" {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "frames must be a positive integer")
			return
		}
		if n < len(hm.rows) {
			hm.rows = hm.rows[len(hm.rows)-n:]
			hm.seqs = hm.seqs[len(hm.seqs)-n:]
		}
	}

	xs := make([]string, len(hm.seqs))
	for i, seq := range hm.seqs {
		xs[i] = strconv.FormatUint(seq, 10)
	}
	ys := make([]string, hm.shape.Subcarriers)
	for sc := range ys {
		ys[sc] = strconv.Itoa(sc)
	}

	data := make([]opts.HeatMapData, 0, len(hm.rows)*hm.shape.Subcarriers)
	lo, hi := 0.0, 0.0
	for x, row := range hm.rows {
		for y, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
		}
	}
	if hi == lo {
		hi = lo + 1
	}

	chart := charts.NewHeatMap()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CSI Amplitude", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Conditioned amplitude", Subtitle: fmt.Sprintf("shape=%s frames=%d", hm.shape, len(hm.rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "subcarrier", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	chart.SetXAxis(xs).AddSeries("amplitude", data)

	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render heatmap: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleConfidencePlot draws mean keypoint confidence per track as a PNG.
func (m *Monitor) handleConfidencePlot(w http.ResponseWriter, r *http.Request) {
	series, start := m.confidenceSeries()
	if len(series) == 0 {
		httputil.NotFound(w, "no poses yet")
		return
	}

	p := plot.New()
	p.Title.Text = "Pose confidence by track"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Mean keypoint confidence"
	p.Y.Min = 0
	p.Y.Max = 1
	p.Add(plotter.NewGrid())

	for i, s := range series {
		pts := make(plotter.XYs, len(s.samples))
		for j, smp := range s.samples {
			pts[j].X = smp.At.Sub(start).Seconds()
			pts[j].Y = smp.Confidence
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to plot track %d: %v", s.id, err))
			return
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("track %d", s.id), line)
	}
	p.Legend.Top = true
	p.BackgroundColor = color.White

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
