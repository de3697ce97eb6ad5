package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexd/internal/broker"
	"github.com/Aman-CERP/indexd/internal/config"
	"github.com/Aman-CERP/indexd/internal/daemon"
	"github.com/Aman-CERP/indexd/internal/dirwatch"
	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/lockfile"
	"github.com/Aman-CERP/indexd/internal/logging"
	"github.com/Aman-CERP/indexd/internal/metrics"
	"github.com/Aman-CERP/indexd/internal/output"
	"github.com/Aman-CERP/indexd/internal/preflight"
	"github.com/Aman-CERP/indexd/internal/registry"
	"github.com/Aman-CERP/indexd/pkg/version"
)

func newServeCmd() *cobra.Command {
	var detach bool
	var stderrLogs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the index broker daemon",
		Long: `Start the daemon that owns the index root.

The daemon takes an exclusive lock on the root directory, opens indexes
on demand, and serves admin requests on a Unix socket. It runs in the
foreground; use --detach to fork it into the background instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return runDetached(cmd)
			}
			return runServe(cmd, stderrLogs)
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the daemon in the background")
	cmd.Flags().BoolVar(&stderrLogs, "stderr", false, "Mirror logs to stderr in addition to the log file")

	return cmd
}

// runDetached re-executes the binary as a background daemon and waits
// until its socket answers.
func runDetached(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(daemonConfig(cfg))
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if socketPath != "" {
		args = append(args, "--socket", socketPath)
	}

	bg := exec.Command(execPath, args...)
	bg.Stdout = nil
	bg.Stderr = nil
	bg.Stdin = nil
	bg.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bg.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	// Reap the child if it dies before the socket comes up.
	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon exited during startup: %w", err)
			}
			return fmt.Errorf("daemon exited during startup")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid %d)", bg.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon did not come up within 5s; check %s", cfg.Logging.File)
}

func runServe(cmd *cobra.Command, stderrLogs bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := setupServeLogging(cfg, stderrLogs)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("indexd starting",
		slog.String("version", version.Short()),
		slog.String("root", cfg.Root),
		slog.String("socket", cfg.Daemon.SocketPath))

	// One daemon per root. The lock also creates the root directory.
	lock, err := lockfile.Acquire(cfg.Root)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	for _, check := range preflight.Run(cfg.Root, cfg.Broker.MaxOpenHandles) {
		if !check.OK {
			logger.Warn("preflight check failed",
				slog.String("check", check.Name),
				slog.String("detail", check.Message))
		}
	}

	dc := daemonConfig(cfg)
	if err := dc.EnsureDir(); err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(dc.PIDPath)
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	eng, err := engine.NewBleveEngine(cfg.Root, logger, cfg.OpenTimeout())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	var reg *registry.Registry
	if cfg.Registry.Enabled {
		reg, err = registry.Open(cfg.Registry.Path, logger)
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}
		defer func() { _ = reg.Close() }()
	}

	brokerCfg := broker.Config{
		Capacity:       cfg.Broker.MaxOpenHandles,
		DefaultOptions: engine.Options{CreateIfMissing: cfg.Broker.CreateIfMissing},
		Logger:         logger,
	}
	if reg != nil {
		brokerCfg.Recorder = reg
	}
	b, err := broker.New(eng, brokerCfg)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	if cfg.Watcher.Enabled {
		watcher, err := dirwatch.New(cfg.Root, b.CloseByPrefix, dirwatch.Options{
			Debounce: cfg.WatchDebounce(),
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer watcher.Stop()
	}

	stopMetrics, err := startMetricsListener(cfg, b, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	var lister daemon.IndexLister
	if reg != nil {
		lister = reg
	}
	server := daemon.NewServer(cfg.Daemon.SocketPath, b, lister, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe(ctx) }()

	logger.Info("indexd ready", slog.Int("capacity", cfg.Broker.MaxOpenHandles))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("admin socket: %w", err)
		}
	}

	logger.Info("indexd shutting down")

	grace := cfg.ShutdownGrace()
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Warn("broker shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("indexd stopped")
	return nil
}

// setupServeLogging configures file logging for the daemon, mirroring to
// stderr when asked to.
func setupServeLogging(cfg *config.Config, stderrLogs bool) (*slog.Logger, func(), error) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxBackups,
		WriteToStderr: cfg.Logging.Stderr || stderrLogs,
	}
	return logging.Setup(logCfg)
}

// startMetricsListener serves /metrics when an address is configured.
// The returned stop function is a no-op otherwise.
func startMetricsListener(cfg *config.Config, b *broker.Broker, logger *slog.Logger) (func(), error) {
	if cfg.Metrics.ListenAddr == "" {
		return func() {}, nil
	}

	promReg := prometheus.NewRegistry()
	metrics.Register(promReg)
	promReg.MustRegister(metrics.NewBrokerCollector(func() metrics.BrokerStats {
		s := b.Stats()
		return metrics.BrokerStats{
			LiveHandles:  s.LiveHandles,
			Capacity:     s.Capacity,
			PendingOpens: s.PendingOpens,
		}
	}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))

	// The debug listener binds localhost by default, so pprof rides
	// along with the metrics.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

	go func() {
		logger.Info("metrics listening", slog.String("addr", cfg.Metrics.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return stop, nil
}
