package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hkevin01/wifi-radar/internal/config"
	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/csi/l1packets"
	"github.com/hkevin01/wifi-radar/internal/csi/l1packets/network"
	"github.com/hkevin01/wifi-radar/internal/csi/l3encoder"
	"github.com/hkevin01/wifi-radar/internal/csi/monitor"
	"github.com/hkevin01/wifi-radar/internal/csi/pipeline"
	"github.com/hkevin01/wifi-radar/internal/csi/sim"
	"github.com/hkevin01/wifi-radar/internal/csi/visualiser"
	"github.com/hkevin01/wifi-radar/internal/recorder"
	"github.com/hkevin01/wifi-radar/internal/serialmux"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

const (
	sourceSim    = "sim"
	sourceUDP    = "udp"
	sourcePCAP   = "pcap"
	sourceSerial = "serial"
	sourceReplay = "replay"
)

type runOptions struct {
	source string

	// sim
	scenario string
	seed     uint64
	pace     bool
	dropRate float64
	noise    float64

	// udp / pcap / serial
	udpAddr    string
	pcapPath   string
	pcapPort   int
	serialPath string
	baudRate   int
	framing    string
	startup    []string

	// replay / record
	dbPath   string
	session  string
	record   bool
	realtime bool
	speed    float64

	httpAddr     string
	grpcAddr     string
	quiet        bool
	drainTimeout time.Duration
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pose pipeline over a CSI source",
		Long: `Run reads CSI frames from one source, estimates poses and tracks, and
delivers them to the debug monitor, the gRPC pose stream and, with
--record, a recording database.

Sources:
  sim     synthetic room with a scripted person (--scenario)
  udp     nexmon_csi datagrams (--udp-addr)
  pcap    nexmon_csi datagrams from a capture file (--pcap)
  serial  ESP32 esp-csi console (--serial)
  replay  a recorded session (--db, --session)

The first SIGINT or SIGTERM stops reading and lets frames already read
reach every sink. A second signal, or --drain-timeout, aborts the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, abort := context.WithCancel(cmd.Context())
			defer abort()
			sigs, unsubscribe := notifyStop()
			defer unsubscribe()
			draining := watchSignals(runCtx, sigs, opts.drainTimeout, abort, cmd.ErrOrStderr())
			return runPipeline(runCtx, cmd, ctx, opts, draining)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.source, "source", sourceSim, "Frame source: sim, udp, pcap, serial or replay")
	f.StringVar(&opts.scenario, "scenario", "", "Simulated activity script, e.g. standing:40,empty:20 (default: walk forever)")
	f.Uint64Var(&opts.seed, "seed", 1, "Simulation random seed")
	f.BoolVar(&opts.pace, "pace", true, "Deliver simulated frames at the configured sample rate")
	f.Float64Var(&opts.dropRate, "drop-rate", 0, "Probability that a simulated antenna pair is missing")
	f.Float64Var(&opts.noise, "noise", sim.DefaultConfig().DiffuseScale, "Rayleigh scale of the simulated diffuse scatter")
	f.StringVar(&opts.udpAddr, "udp-addr", fmt.Sprintf(":%d", network.DefaultNexmonPort), "UDP bind address for nexmon_csi reports")
	f.StringVar(&opts.pcapPath, "pcap", "", "pcap or pcapng capture to replay")
	f.IntVar(&opts.pcapPort, "pcap-port", network.DefaultNexmonPort, "UDP destination port to replay from the capture (0 for all)")
	f.StringVar(&opts.serialPath, "serial", "/dev/ttyUSB0", "ESP32 serial device")
	f.IntVar(&opts.baudRate, "baud", serialmux.DefaultBaudRate, "Serial baud rate")
	f.StringVar(&opts.framing, "serial-framing", "8N1", "Serial data bits, parity and stop bits")
	f.StringSliceVar(&opts.startup, "serial-init", nil, "Console commands sent to the ESP32 after opening the port")
	f.StringVar(&opts.dbPath, "db", "recordings.db", "Recording database")
	f.StringVar(&opts.session, "session", "", "Session ID to replay")
	f.BoolVar(&opts.record, "record", false, "Record frames, poses and track events to --db")
	f.BoolVar(&opts.realtime, "realtime", false, "Replay pcap and recorded sessions at their captured pace")
	f.Float64Var(&opts.speed, "speed", 1, "Playback rate multiplier with --realtime")
	f.StringVar(&opts.httpAddr, "http", "", "Debug HTTP listen address, e.g. localhost:8090 (disabled when empty)")
	f.StringVar(&opts.grpcAddr, "grpc", "", "gRPC pose stream listen address, e.g. localhost:50052 (disabled when empty)")
	f.BoolVar(&opts.quiet, "quiet", false, "Do not print track lifecycle events")
	f.DurationVar(&opts.drainTimeout, "drain-timeout", defaultDrainTimeout, "After the first SIGINT/SIGTERM, how long in-flight frames may take to drain before the run is aborted")

	return cmd
}

// frameSource is a csi.Source plus whatever goroutine must run to fill it.
type frameSource struct {
	csi.Source
	name    string
	produce func(ctx context.Context) error
	stats   func() any
	admin   func(mux *http.ServeMux)
	close   func()
}

// runPipeline runs until the source ends or ctx is cancelled. Closing
// draining stops intake and lets frames already read reach the sinks.
func runPipeline(ctx context.Context, cmd *cobra.Command, cc *commandContext, opts runOptions, draining <-chan struct{}) error {
	cfg, err := cc.tuning()
	if err != nil {
		return err
	}

	var store *recorder.Store
	if opts.record || opts.source == sourceReplay {
		store, err = recorder.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open recording database: %w", err)
		}
		defer store.Close()
	}

	var replaySession *recorder.Session
	if opts.source == sourceReplay {
		id, err := uuid.Parse(opts.session)
		if err != nil {
			return fmt.Errorf("--session: %w", err)
		}
		replaySession, err = store.Session(ctx, id)
		if err != nil {
			return err
		}
		// A recording is only meaningful with the geometry it was made with.
		shape := replaySession.Shape
		rate := replaySession.SampleRateHz
		cfg = cfg.With(&config.TuningConfig{Tx: &shape.Tx, Rx: &shape.Rx, Subcarriers: &shape.Subcarriers, SampleRateHz: &rate})
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	shape := csi.GridShape{Tx: cfg.GetTx(), Rx: cfg.GetRx(), Subcarriers: cfg.GetSubcarriers()}
	params, err := loadParams(cfg, shape)
	if err != nil {
		return err
	}

	src, err := openSource(cfg, shape, opts, store, replaySession)
	if err != nil {
		return err
	}
	if src.close != nil {
		defer src.close()
	}

	mon := monitor.New(nil, monitor.DefaultOptions())
	sinks := csi.MultiSink{mon}
	if !opts.quiet {
		sinks = append(sinks, &eventPrinter{w: cmd.OutOrStdout()})
	}
	if src.stats != nil {
		mon.AddStats(src.name, src.stats)
	}

	var pub *visualiser.Publisher
	if opts.grpcAddr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = opts.grpcAddr
		pub = visualiser.NewPublisher(vcfg)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
		mon.AddStats("visualiser", func() any { return pub.Stats() })
	}

	var rec *recorder.Recorder
	if opts.record {
		sess, err := store.CreateSession(ctx, shape, cfg.GetSampleRateHz(), src.name, time.Now())
		if err != nil {
			return err
		}
		rec = recorder.NewRecorder(store, sess, recorder.Options{})
		sinks = append(sinks, rec)
		mon.AddStats("recorder", func() any { return rec.Stats() })
		fmt.Fprintf(cmd.ErrOrStderr(), "Recording session %s to %s\n", sess.ID, opts.dbPath)
	}

	p, err := pipeline.NewFromTuning(cfg, params, src, sinks)
	if err != nil {
		return err
	}
	mon.SetPipeline(p)
	var frameTap func(*csi.Frame)
	if rec != nil {
		frameTap = rec.RecordFrame
	}
	p.SetTaps(frameTap, mon.ObserveConditioned)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if src.produce != nil {
		g.Go(func() error {
			err := src.produce(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		// The run is over once the pipeline finishes, whatever else is
		// still serving.
		defer cancel()
		err := p.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	go func() {
		select {
		case <-draining:
			p.Stop()
		case <-gctx.Done():
		}
	}()
	if opts.httpAddr != "" {
		mux := http.NewServeMux()
		mon.AttachAdminRoutes(mux)
		if store != nil {
			store.AttachAdminRoutes(mux)
		}
		if src.admin != nil {
			src.admin(mux)
		}
		serveHTTP(g, gctx, opts.httpAddr, mux)
	}

	runErr := g.Wait()

	if rec != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := rec.Close(closeCtx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "recorder did not drain: %v\n", err)
		}
	}

	printSummary(cmd.OutOrStdout(), p)
	return runErr
}

func loadParams(cfg *config.TuningConfig, shape csi.GridShape) (*l3encoder.Params, error) {
	path := cfg.GetModelParamsPath()
	if path == "" {
		return l3encoder.ReferenceParams(shape), nil
	}
	params, err := l3encoder.LoadParams(path)
	if err != nil {
		return nil, err
	}
	if params.Shape != shape {
		return nil, fmt.Errorf("model parameters are for shape %s, config is %s", params.Shape, shape)
	}
	return params, nil
}

func openSource(cfg *config.TuningConfig, shape csi.GridShape, opts runOptions, store *recorder.Store, sess *recorder.Session) (*frameSource, error) {
	switch opts.source {
	case sourceSim:
		scfg := sim.ConfigFromTuning(cfg)
		scfg.Seed = opts.seed
		scfg.Pace = opts.pace
		scfg.DropRate = opts.dropRate
		scfg.DiffuseScale = opts.noise
		if opts.scenario != "" {
			sc, err := sim.ParseScenario(opts.scenario)
			if err != nil {
				return nil, err
			}
			scfg.Scenario = sc
		}
		gen, err := sim.NewGenerator(scfg, timeutil.RealClock{})
		if err != nil {
			return nil, err
		}
		return &frameSource{Source: gen, name: sourceSim}, nil

	case sourceReplay:
		rs := recorder.NewReplaySource(store, sess)
		rs.Realtime = opts.realtime
		rs.Speed = opts.speed
		return &frameSource{Source: rs, name: sourceReplay}, nil

	case sourceUDP, sourcePCAP:
		out := l1packets.NewChanSource(cfg.GetQueueCapacity() * 4)
		feeder, err := l1packets.NewFeeder(l1packets.NexmonParser{}, shape, l1packets.DefaultMaxPending, out)
		if err != nil {
			return nil, err
		}
		fs := &frameSource{Source: out, name: opts.source, stats: func() any { return feeder.Stats() }}
		if opts.source == sourceUDP {
			listener := network.NewUDPListener(network.UDPListenerConfig{
				Address:     opts.udpAddr,
				RcvBuf:      4 << 20,
				LogInterval: 10 * time.Second,
				Feeder:      feeder,
			})
			fs.stats = func() any {
				return map[string]any{"socket": listener.Stats(), "feeder": feeder.Stats()}
			}
			fs.produce = func(ctx context.Context) error {
				err := listener.Start(ctx)
				return errors.Join(err, feeder.Close(ctx))
			}
			return fs, nil
		}
		if opts.pcapPath == "" {
			return nil, errors.New("--pcap is required with --source pcap")
		}
		fs.produce = func(ctx context.Context) error {
			_, err := network.ReadPCAPFile(ctx, opts.pcapPath, feeder, network.PCAPOptions{
				Port:     opts.pcapPort,
				Realtime: opts.realtime,
				Speed:    opts.speed,
			})
			return errors.Join(err, feeder.Close(ctx))
		}
		return fs, nil

	case sourceSerial:
		out := l1packets.NewChanSource(cfg.GetQueueCapacity() * 4)
		feeder, err := l1packets.NewFeeder(&l1packets.ESP32Parser{}, shape, l1packets.DefaultMaxPending, out)
		if err != nil {
			return nil, err
		}
		portOpts, err := serialmux.PortOptions{BaudRate: opts.baudRate}.ParseFraming(opts.framing)
		if err != nil {
			return nil, fmt.Errorf("--serial-framing: %w", err)
		}
		mux, err := serialmux.NewRealSerialMux(opts.serialPath, portOpts, opts.startup...)
		if err != nil {
			return nil, err
		}
		return &frameSource{
			Source: out,
			name:   sourceSerial,
			stats: func() any {
				received, dropped := mux.Counters()
				return map[string]any{"lines": received, "lines_dropped": dropped, "feeder": feeder.Stats()}
			},
			admin: mux.AttachAdminRoutes,
			close: func() { mux.Close() },
			produce: func(ctx context.Context) error {
				if err := mux.Initialise(); err != nil {
					return errors.Join(err, feeder.Close(ctx))
				}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					// Closing ends the CSI subscription once the port does.
					err := mux.Monitor(gctx)
					mux.Close()
					return err
				})
				g.Go(func() error { return serialmux.FeedCSI(gctx, mux, feeder, nil) })
				err := g.Wait()
				return errors.Join(err, feeder.Close(ctx))
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q", opts.source)
}

func serveHTTP(g *errgroup.Group, ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return server.Close()
		}
		return nil
	})
}
