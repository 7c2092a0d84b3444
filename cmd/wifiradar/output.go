package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/pipeline"
)

// eventPrinter writes one line per track lifecycle event.
type eventPrinter struct {
	w io.Writer
}

func (e *eventPrinter) OnPoseUpdate(time.Time, []csi.PoseEstimate) {}

func (e *eventPrinter) OnTrackLifecycle(id csi.TrackID, ev csi.LifecycleEvent, ts time.Time) {
	fmt.Fprintf(e.w, "%s track %d %s\n", ts.UTC().Format(time.RFC3339Nano), id, ev)
}

func printSummary(w io.Writer, p *pipeline.Pipeline) {
	st := p.Stats()
	var dropped uint64
	for _, n := range st.Dropped {
		dropped += n
	}
	fmt.Fprintf(w, "frames: %d received, %d dispatched, %d dropped, %d rejected; poses: %d\n",
		st.Received, st.Dispatched, dropped, st.ShapeMismatches, st.Poses)
	if snap := p.Snapshot(); snap != nil {
		fmt.Fprintf(w, "tracks: %d spawned, %d confirmed, %d retired\n",
			snap.Totals.Spawned, snap.Totals.Confirmed, snap.Totals.Retired)
	}
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, columns)
	for i := range configs {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// sortedKeys returns m's keys in ascending order.
func sortedKeys[V any](m map[csi.TrackID]V) []csi.TrackID {
	keys := make([]csi.TrackID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
