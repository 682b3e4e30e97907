// gotgen daemon -- multi-port traffic generator and impairment emulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gotgen/internal/api"
	"github.com/dantte-lp/gotgen/internal/config"
	"github.com/dantte-lp/gotgen/internal/discovery"
	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/metrics"
	"github.com/dantte-lp/gotgen/internal/netio"
	appversion "github.com/dantte-lp/gotgen/internal/version"
	"github.com/dantte-lp/gotgen/internal/workloads"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// coreShutdownTimeout bounds the runner drain pass: every active
// profile gets its own drain grace, so the overall bound is generous.
const coreShutdownTimeout = 30 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging send stalls.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("gotgen"))
		return 0
	}

	// 2. Load config.
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gotgen starting",
		slog.String("version", appversion.Version),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Start flight recorder for post-mortem debugging of send stalls.
	fr := startFlightRecorder(logger)

	// 5. Build the port set and the registry around it.
	reg := engine.NewRegistry(logger)
	transmitters, closePorts, err := openPorts(cfg, reg, logger)
	if err != nil {
		logger.Error("port enumeration failed", slog.String("error", err.Error()))
		return 1
	}
	defer closePorts()

	// 6. Expose engine counters to Prometheus.
	promReg := prometheus.NewRegistry()
	metrics.NewCollector(reg, promReg)

	// 7. Run everything under one signal-aware errgroup.
	if err := runServers(cfg, reg, transmitters, promReg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("gotgen exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("gotgen stopped")
	return 0
}

// runServers wires the engine, prober, workloads and HTTP servers, then
// blocks until a termination signal arrives and everything drains.
func runServers(
	cfg *config.Config,
	reg *engine.Registry,
	transmitters []*netio.Transmitter,
	promReg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Per-port scheduling loops.
	for _, tx := range transmitters {
		g.Go(func() error {
			return tx.Run(gCtx)
		})
	}

	// Profile persistence.
	var store *config.Store
	if cfg.Engine.StorePath != "" {
		store = config.NewStore(cfg.Engine.StorePath)
		loadStoredProfiles(store, reg, logger)
	}

	// Neighbor prober: periodic scans plus on-demand refresh via the core.
	prober := discovery.NewProber(reg, discovery.Config{
		Interval:    cfg.Discovery.Interval,
		PortTimeout: cfg.Discovery.PortTimeout,
		LLDPPath:    cfg.Discovery.LLDPPath,
	}, logger)
	g.Go(func() error {
		return prober.Run(gCtx)
	})

	core := engine.NewCore(gCtx, reg, storeOrNil(store), prober, logger)
	bench := engine.NewBench(reg, nil, logger)
	wl := buildWorkloads(cfg, reg, logger)

	// Link state changes flip transmitters without waiting for a failed
	// write.
	monitor := newInterfaceMonitor(logger)
	g.Go(func() error {
		return monitor.Run(gCtx)
	})
	g.Go(func() error {
		watchLinkEvents(monitor.Events(), reg, logger)
		return nil
	})

	apiSrv := newAPIServer(cfg.API, core, bench, wl, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, promReg)
	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	// Bring persisted enabled profiles back up.
	for name, err := range core.StartAll(gCtx) {
		logger.Warn("profile restart failed",
			slog.String("profile", name),
			slog.String("error", err.Error()),
		)
	}

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, core, wl, transmitters, monitor, logger, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// storeOrNil converts a possibly nil *Store into the ProfileStore
// interface without wrapping a typed nil.
func storeOrNil(store *config.Store) engine.ProfileStore {
	if store == nil {
		return nil
	}
	return store
}

// openPorts enumerates the host devices, opens a raw endpoint per
// usable port, and publishes everything into the registry. Ports whose
// socket cannot be opened stay visible but not sendable.
func openPorts(cfg *config.Config, reg *engine.Registry, logger *slog.Logger) ([]*netio.Transmitter, func(), error) {
	infos, err := netio.EnumeratePorts()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate ports: %w", err)
	}

	want := make(map[string]bool, len(cfg.Engine.Ports))
	for _, name := range cfg.Engine.Ports {
		want[name] = true
	}

	var (
		transmitters []*netio.Transmitter
		conns        []*netio.PacketSock
	)

	for _, info := range infos {
		if len(want) > 0 && !want[info.Name] {
			continue
		}

		conn, err := netio.OpenPacketSock(netio.PacketSockConfig{
			Interface:          info.Name,
			HardwareTimestamps: cfg.Engine.HardwareTimestamps,
		})
		if err != nil {
			logger.Warn("port not sendable",
				slog.String("port", info.Name),
				slog.String("error", err.Error()),
			)
			reg.AddPort(engine.NewPort(info, nil))
			continue
		}

		tx := netio.NewTransmitter(conn, netio.TransmitterConfig{
			Port:       info.Name,
			MTU:        info.MTU,
			QueueDepth: cfg.Engine.QueueDepth,
		}, logger)

		conns = append(conns, conn)
		transmitters = append(transmitters, tx)
		reg.AddPort(engine.NewPort(info, tx))
	}

	closeAll := func() {
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				logger.Warn("failed to close packet socket",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return transmitters, closeAll, nil
}

// loadStoredProfiles replays persisted descriptors into the registry.
// Individual bad descriptors are skipped, not fatal.
func loadStoredProfiles(store *config.Store, reg *engine.Registry, logger *slog.Logger) {
	profiles, err := store.LoadProfiles()
	if err != nil {
		logger.Error("profile store unreadable, starting empty",
			slog.String("path", store.Path()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, prof := range profiles {
		if _, err := reg.CreateProfile(prof); err != nil {
			logger.Warn("stored profile rejected",
				slog.String("profile", prof.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("profiles loaded", slog.Int("count", len(profiles)))
}

// buildWorkloads declares the capability set from the configuration.
// Returns nil when nothing is configured, which removes the endpoints
// entirely.
func buildWorkloads(cfg *config.Config, reg *engine.Registry, logger *slog.Logger) *workloads.Manager {
	var mgr *workloads.Manager

	ensure := func() *workloads.Manager {
		if mgr == nil {
			mgr = workloads.NewManager(logger)
		}
		return mgr
	}

	if c := cfg.Workloads.NetFlow; c.Collector != "" {
		ensure().Register(workloads.NewNetFlow(reg, workloads.NetFlowConfig{
			Collector: c.Collector,
			Version:   c.Version,
			Interval:  c.Interval,
		}, logger))
	}

	if c := cfg.Workloads.SNMP; c.TrapTarget != "" {
		ensure().Register(workloads.NewTrapFarm(reg, workloads.SNMPConfig{
			TrapTarget: c.TrapTarget,
			Community:  c.Community,
			Agents:     c.Agents,
		}, logger))
	}

	if c := cfg.Workloads.BGP; c.GRPCAddr != "" {
		ensure().Register(workloads.NewRouteInjector(workloads.BGPConfig{
			GRPCAddr: c.GRPCAddr,
			Timeout:  c.Timeout,
		}, logger))
	}

	return mgr
}

// newInterfaceMonitor prefers the netlink link-group subscriber and
// falls back to the stub on hosts where the socket cannot be opened.
func newInterfaceMonitor(logger *slog.Logger) netio.InterfaceMonitor {
	monitor, err := netio.NewNetlinkMonitor(logger)
	if err != nil {
		logger.Warn("netlink monitor unavailable, link changes undetected",
			slog.String("error", err.Error()),
		)
		return netio.NewStubInterfaceMonitor(logger)
	}

	return monitor
}

// watchLinkEvents forwards link transitions to the owning transmitters.
// Runs until the monitor closes its channel.
func watchLinkEvents(events <-chan netio.InterfaceEvent, reg *engine.Registry, logger *slog.Logger) {
	for ev := range events {
		port, err := reg.Port(ev.IfName)
		if err != nil {
			continue
		}

		if tx := port.Transmitter(); tx != nil {
			tx.SetLinkState(ev.Up)
		}

		logger.Info("port link state applied",
			slog.String("port", ev.IfName),
			slog.Bool("up", ev.Up),
		)
	}
}

// startHTTPServers registers the API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("api server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.API.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	// Send keepalive at half the watchdog interval.
	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — dynamic log level
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration.
// Only the log level applies dynamically; port and listener changes
// need a restart. Blocks until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration and applies the dynamic
// subset. Errors during reload are logged but do not stop the daemon --
// the previous configuration remains in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown — drain profiles + stop servers
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, stops
// auxiliary workloads, drains every active profile through its grace
// window, drains the transmitter queues, then shuts down HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for each drain stage.
func gracefulShutdown(
	ctx context.Context,
	core *engine.Core,
	wl *workloads.Manager,
	transmitters []*netio.Transmitter,
	monitor netio.InterfaceMonitor,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if wl != nil {
		wl.StopAll()
	}

	// Drain active profiles: each runner gets its impairment-aware
	// grace so in-flight delayed frames still leave the wire.
	coreCtx, cancelCore := context.WithTimeout(context.WithoutCancel(ctx), coreShutdownTimeout)
	core.Shutdown(coreCtx)
	cancelCore()

	for _, tx := range transmitters {
		if err := tx.Shutdown(time.Second); err != nil {
			logger.Warn("transmitter drain incomplete",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := monitor.Close(); err != nil {
		logger.Warn("failed to close interface monitor",
			slog.String("error", err.Error()),
		)
	}

	// Stop flight recorder.
	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// Derive a fresh shutdown context from the parent (which is cancelled).
	// context.WithoutCancel detaches from the parent's cancellation so we
	// can enforce our own drain timeout.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of scheduling stalls. The recorder maintains
// a rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newAPIServer creates the HTTP server for the JSON control surface.
// The handler is h2c-wrapped inside api.Server so plaintext HTTP/2
// clients work against the same port.
func newAPIServer(
	cfg config.APIConfig,
	core *engine.Core,
	bench *engine.Bench,
	wl *workloads.Manager,
	logger *slog.Logger,
) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(core, bench, wl, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
