package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/daemon"
	"stockpile/internal/ingest"
	"stockpile/internal/logging"
	"stockpile/internal/metrics"
	"stockpile/internal/preflight"
	"stockpile/internal/queue"
	"stockpile/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the stockpile daemon and blocks until a signal arrives or the
// workflow halts on a store fault, in which case the fault is returned.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := newDaemonLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(signalCtx, logger, cfg)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	mt := metrics.New()
	rt, err := Build(signalCtx, cfg, logger, mt)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	manager := workflow.NewManager(cfg, store, rt.Pipeline, logger,
		workflow.WithNotifier(rt.Notifier),
		workflow.WithMetrics(mt),
	)
	adapter := ingest.NewAdapter(store, ingest.RegistrySizer{Registry: rt.Sources}, cfg.Workflow.Debounce(), logger,
		ingest.WithWaker(manager),
		ingest.WithMetrics(mt),
	)

	var watchers []daemon.Watcher
	if strings.TrimSpace(cfg.Paths.InputDir) != "" {
		watchers = append(watchers, ingest.NewLocalWatcher(cfg.Paths.InputDir, rt.Local, store, adapter, time.Second, logger))
	}
	if cfg.CloudInputEnabled() && rt.Cloud != nil {
		interval := time.Duration(cfg.CloudDrive.PollInterval) * time.Second
		watchers = append(watchers, ingest.NewCloudWatcher(rt.Cloud, store, adapter, interval, logger))
	}

	d, err := daemon.New(cfg, store, logger, manager,
		daemon.WithWatchers(watchers...),
		daemon.WithMetrics(mt),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and job database access"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("stockpile daemon shutting down", logging.Duration("grace", cfg.Workflow.Grace()))
	case <-d.Done():
	}
	d.Stop()
	if err := d.Err(); err != nil {
		return fmt.Errorf("workflow halted: %w", err)
	}
	return nil
}

// newDaemonLogger writes console output and tees a JSON run log under the
// log directory.
func newDaemonLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	console, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	runLog := logging.RunLogPath(cfg)
	fileHandler, err := logging.NewHandler(logging.Options{
		Level:       level,
		Format:      "json",
		OutputPaths: []string{runLog},
		Development: opts.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to open run log %s: %v\n", runLog, err)
		return console, nil
	}
	return logging.TeeLogger(console, fileHandler), nil
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg, preflight.Options{})
	failed := preflight.Failed(results)
	for _, r := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "jobs reaching the affected stage will fail"),
		)
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("cloud_input", cfg.CloudInputEnabled()),
		logging.Bool("cloud_output", cfg.CloudOutputEnabled()),
		logging.Bool("whisperx_cuda", cfg.Transcription.CUDAEnabled),
		logging.Int("max_concurrent_jobs", cfg.Workflow.MaxConcurrentJobs),
	)
}
