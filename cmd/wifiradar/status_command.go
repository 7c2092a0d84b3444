package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hkevin01/wifi-radar/internal/csi/monitor"
	"github.com/hkevin01/wifi-radar/internal/httputil"
)

func newStatusCommand() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the counters of a running pipeline",
		Long: `Status reads the csi/stats debug page of a "wifiradar run --http" process
and prints its pipeline counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := &http.Client{Timeout: timeout}
			return printStatus(ctx, cmd, client, statsURL(addr))
		},
	}
	cmd.Flags().StringVar(&addr, "http", "localhost:8090", "Debug HTTP address of the running pipeline")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func statsURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/debug/csi/stats"
}

func printStatus(ctx context.Context, cmd *cobra.Command, client httputil.Doer, url string) error {
	var resp monitor.StatsResponse
	if err := httputil.GetJSON(ctx, client, url, &resp); err != nil {
		return fmt.Errorf("failed to read %s: %w", url, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "As of %s\n", resp.GeneratedAt.Local().Format(time.DateTime))
	st := resp.Pipeline
	if st == nil {
		fmt.Fprintln(out, "Pipeline not running")
		return nil
	}

	count := func(n uint64) string { return strconv.FormatUint(n, 10) }
	rows := [][]string{
		{"received", count(st.Received)},
		{"conditioned", count(st.Conditioned)},
		{"encoded", count(st.Encoded)},
		{"reused", count(st.Reused)},
		{"estimated", count(st.Estimated)},
		{"dispatched", count(st.Dispatched)},
		{"poses", count(st.Poses)},
		{"shape mismatches", count(st.ShapeMismatches)},
		{"inference errors", count(st.InferenceErrors)},
		{"timeouts", count(st.Timeouts)},
	}
	stages := make([]string, 0, len(st.Dropped))
	for stage := range st.Dropped {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		rows = append(rows, []string{"dropped at " + stage, count(st.Dropped[stage])})
	}
	rows = append(rows, []string{"last latency", st.LastLatency.String()})

	fmt.Fprintln(out, renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
