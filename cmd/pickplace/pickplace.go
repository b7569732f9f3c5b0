package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/pickplace/internal/api"
	"github.com/banshee-data/pickplace/internal/config"
	"github.com/banshee-data/pickplace/internal/db"
	"github.com/banshee-data/pickplace/internal/frames"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/motion"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/posefeed"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/serialmux"
	"github.com/banshee-data/pickplace/internal/tracking"
	"github.com/banshee-data/pickplace/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	configFile = flag.String("config", "", "Path to pickplace JSON config (default: config/pickplace.defaults.json)")
	dbFile     = flag.String("db", "pickplace.db", "Path to the SQLite journal (empty disables journaling)")
	verbose    = flag.Bool("verbose", false, "Log diagnostics to stderr")
	traceLog   = flag.String("trace-log", "", "Write high-frequency observation telemetry to this file")

	feed        = flag.String("feed", feedSim, "Pose feed: sim, sim-udp, serial, udp or pcap")
	port        = flag.String("port", "/dev/ttyUSB0", "Vision board serial port (feed=serial)")
	baudRate    = flag.Int("baud", serialmux.DefaultBaudRate, "Vision board baud rate (feed=serial)")
	udpAddr     = flag.String("udp-addr", "127.0.0.1:5005", "UDP address pose reports arrive on (feed=udp, sim-udp)")
	rcvBuf      = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	pcapFile    = flag.String("pcap", "", "Capture file to replay (feed=pcap)")
	pcapPort    = flag.Int("pcap-port", 0, "Keep only datagrams to this UDP port when replaying (0 keeps all)")
	logInterval = flag.Duration("log-interval", time.Minute, "Feed statistics logging interval")

	input     = flag.String("input", inputPrompt, "Operator input: prompt (stdin), http (POST /api/continue) or auto")
	autoDelay = flag.Duration("auto-delay", 2*time.Second, "Pause before each cycle when -input=auto")

	simInterval = flag.Duration("sim-interval", 100*time.Millisecond, "Simulated board report interval")
	simLag      = flag.Duration("sim-scene-lag", 300*time.Millisecond, "Simulated collision world propagation delay")
	simNoise    = flag.Float64("sim-noise", 0.002, "Simulated board position noise in metres")
	simFailRate = flag.Float64("sim-fail-rate", 0, "Probability a simulated motion goal fails")
	simSeed     = flag.Uint64("sim-seed", 1, "Simulated board noise seed")

	versionFlag = flag.Bool("version", false, "Print version and exit")
)

// Pose feeds selectable with -feed.
const (
	feedSim    = "sim"
	feedSimUDP = "sim-udp"
	feedSerial = "serial"
	feedUDP    = "udp"
	feedPCAP   = "pcap"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s migrate <action>\n\nFlags:\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("pickplace %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbFile, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	closeLogs, err := configureLogging(*verbose, *traceLog)
	if err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	defer closeLogs()

	var cfg *config.PickPlaceConfig
	if *configFile != "" {
		cfg, err = config.LoadPickPlaceConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("pickplace: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func configureLogging(verbose bool, tracePath string) (func(), error) {
	diag := io.Discard
	if verbose {
		diag = os.Stderr
	}
	trace := io.Discard
	closer := func() {}
	if tracePath != "" {
		f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		trace = f
		closer = func() { f.Close() }
	}
	monitoring.SetLogWriters(os.Stderr, diag, trace)
	return closer, nil
}

func run(ctx context.Context, cfg *config.PickPlaceConfig) error {
	cell, err := newSimCell(cfg, simOptions{
		SceneLag:    *simLag,
		Noise:       *simNoise,
		FailureRate: *simFailRate,
		Seed:        *simSeed,
	})
	if err != nil {
		return err
	}

	var (
		store    *db.DB
		journal  pickplace.Journal
		recorder tracking.Recorder
		history  api.TransitionStore
	)
	if *dbFile != "" {
		store, err = db.NewDB(*dbFile)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer store.Close()
		journal, recorder, history = store, store, store
	}

	tracker := tracking.NewTracker(frames.NewTransformer(cell.Tree), tracking.Config{
		TargetFrame:   cfg.GetBaseFrame(),
		LookupTimeout: cfg.GetTransformLookupTimeout(),
		HistorySize:   cfg.GetHistorySize(),
		Recorder:      recorder,
	})
	world := scene.NewSync(cell.Scene, scene.Options{
		Frame:        cfg.GetBaseFrame(),
		PollInterval: cfg.GetScenePollInterval(),
		Timeout:      cfg.GetSceneTimeout(),
	})
	commander := motion.NewCommander(cell.Arm, motion.CommanderConfig{
		JointCount: len(cfg.PickPlace().ObserveJoints),
		Tolerance:  cfg.GetGoalTolerance(),
	})

	gate, manual, err := newGate(*input, os.Stdin, os.Stdout, *autoDelay)
	if err != nil {
		return err
	}
	// Keep the interface nil when there is no manual gate.
	var releaser api.Releaser
	if manual != nil {
		releaser = manual
	}

	orch, err := pickplace.New(pickplace.Deps{
		Mover:   commander,
		World:   world,
		Poses:   tracker,
		Gate:    gate,
		Journal: journal,
	}, cfg.PickPlace())
	if err != nil {
		return err
	}
	ppCfg := orch.Config()
	monitoring.Logf("pickplace %s: session %s, feed=%s, input=%s, approach=%s, reference yaw %s",
		version.Version, orch.Snapshot().ID, *feed, *input, ppCfg.ApproachMode, degrees(ppCfg.ReferenceYaw))

	g, gctx := errgroup.WithContext(ctx)
	observations := make(chan tracking.Observation, 64)

	serialMux, err := startFeed(gctx, g, cell, cfg, observations)
	if err != nil {
		return err
	}
	defer serialMux.Close()

	g.Go(func() error {
		return ignoreCanceled(tracker.Run(gctx, observations))
	})

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		grpcServer := grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		g.Go(func() error {
			monitoring.Logf("gRPC health server listening on %s", lis.Addr())
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		defer healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		err := orch.Run(gctx)
		monitoring.Logf("orchestrator stopped after %d cycles (%v)", orch.Snapshot().Cycle, orch.Elapsed().Round(time.Second))
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		// Run only returns nil once cancelled; stop the other routines too.
		return errStopped
	})

	g.Go(func() error {
		mux := api.NewServer(api.Options{
			Session: orch,
			Track:   tracker,
			Scene:   world,
			Journal: history,
			Gate:    releaser,
			Config:  cfg,
		}).ServeMux()
		serialMux.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		return serveHTTP(gctx, *listen, api.LoggingMiddleware(mux))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		return err
	}
	return nil
}

var errStopped = errors.New("orchestrator stopped")

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startFeed starts the configured pose feed, delivering to out. Feeds that
// do not use the serial board get a disabled mux.
func startFeed(ctx context.Context, g *errgroup.Group, cell *simCell, cfg *config.PickPlaceConfig, out chan<- tracking.Observation) (serialmux.SerialMuxInterface, error) {
	dec := posefeed.Decoder{DefaultFrame: cfg.GetCameraFrame()}

	switch *feed {
	case feedSim, feedSerial:
		var m serialmux.SerialMuxInterface
		if *feed == feedSim {
			m = serialmux.NewMockSerialMux(cell.Board, *simInterval)
		} else {
			var err error
			m, err = serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baudRate})
			if err != nil {
				return nil, fmt.Errorf("failed to open vision board: %w", err)
			}
		}
		if err := m.Initialize(); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to initialize vision board: %w", err)
		}
		monitoring.Logf("initialized vision board (%s)", *feed)
		g.Go(func() error {
			if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Opsf("serial monitor: %v", err)
			}
			return nil
		})
		src := &posefeed.SerialSource{Mux: m, Decoder: dec, LogInterval: *logInterval}
		g.Go(func() error { return ignoreCanceled(src.Run(ctx, out)) })
		return m, nil

	case feedUDP, feedSimUDP:
		l := posefeed.NewUDPListener(posefeed.UDPListenerConfig{
			Address:     *udpAddr,
			RcvBuf:      *rcvBuf,
			LogInterval: *logInterval,
			Decoder:     dec,
		})
		g.Go(func() error { return ignoreCanceled(l.Run(ctx, out)) })
		if *feed == feedSimUDP {
			g.Go(func() error { return ignoreCanceled(cell.Board.ServeUDP(ctx, *udpAddr, *simInterval)) })
		}
		return serialmux.NewDisabledSerialMux(), nil

	case feedPCAP:
		if *pcapFile == "" {
			return nil, errors.New("-pcap is required with -feed=pcap")
		}
		f, err := os.Open(*pcapFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture: %w", err)
		}
		g.Go(func() error {
			defer f.Close()
			n, err := posefeed.ReplayPCAP(ctx, f, posefeed.ReplayOptions{
				Port:     uint16(*pcapPort),
				Decoder:  dec,
				Realtime: true,
			}, out)
			monitoring.Logf("replayed %d observations from %s", n, *pcapFile)
			return ignoreCanceled(err)
		})
		return serialmux.NewDisabledSerialMux(), nil

	default:
		return nil, fmt.Errorf("unknown feed %q", *feed)
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}
