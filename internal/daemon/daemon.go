package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stockpile/internal/config"
	"stockpile/internal/logging"
	"stockpile/internal/metrics"
	"stockpile/internal/queue"
	"stockpile/internal/staging"
	"stockpile/internal/workflow"
)

const stagingSweepMinAge = time.Hour

// Watcher is an ingestion source that runs alongside the workflow.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	watchers []Watcher
	metrics  *metrics.Metrics

	lockPath string
	pidPath  string
	lock     *flock.Flock

	running     atomic.Bool
	cancel      context.CancelFunc
	metricsDone chan struct{}
	mu          sync.Mutex
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithWatchers registers ingestion watchers started after the workflow.
func WithWatchers(watchers ...Watcher) Option {
	return func(d *Daemon) {
		for _, w := range watchers {
			if w != nil {
				d.watchers = append(d.watchers, w)
			}
		}
	}
}

// WithMetrics serves m on the configured metrics bind address.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: cfg.LockPath(),
		pidPath:  cfg.PIDPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow manager,
// watchers and metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another stockpile daemon instance is already running (lock %s)", d.lockPath)
	}
	if err := writePIDFile(d.pidPath); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}

	d.sweepStaging(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.release()
		return fmt.Errorf("start workflow: %w", err)
	}
	for i, w := range d.watchers {
		if err := w.Start(runCtx); err != nil {
			for _, started := range d.watchers[:i] {
				started.Stop()
			}
			d.workflow.Stop()
			cancel()
			d.release()
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	if bind := strings.TrimSpace(d.cfg.Metrics.Bind); bind != "" && d.metrics != nil {
		done := make(chan struct{})
		d.metricsDone = done
		go func() {
			defer close(done)
			if err := d.metrics.Serve(runCtx, bind, d.cfg.Metrics.Path, d.logger); err != nil {
				d.logger.Warn("metrics endpoint stopped",
					logging.Error(err),
					logging.String(logging.FieldEventType, "metrics_failed"),
					logging.String(logging.FieldImpact, "prometheus scrape unavailable"),
				)
			}
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("stockpile daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("watchers", len(d.watchers)),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop stops ingestion first, then drains the workflow within its shutdown
// grace, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	for _, w := range d.watchers {
		w.Stop()
	}
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.metricsDone != nil {
		<-d.metricsDone
		d.metricsDone = nil
	}
	d.release()
	d.running.Store(false)
	d.logStatus(context.Background())
}

// logStatus records the final queue and stage state at shutdown.
func (d *Daemon) logStatus(ctx context.Context) {
	status := d.Status(ctx)
	wf := status.Workflow
	attrs := []any{
		logging.Int("pending", wf.Queue.Pending),
		logging.Int("processing", wf.Queue.Processing),
		logging.Int("failed", wf.Queue.Failed),
		logging.Int("completed", wf.Queue.Completed),
		logging.String(logging.FieldEventType, "daemon_stop"),
	}
	if wf.LastError != "" {
		attrs = append(attrs, logging.String("last_error", wf.LastError))
	}
	if wf.LastJob != nil {
		attrs = append(attrs, logging.String(logging.FieldJobID, wf.LastJob.ID))
	}
	var unready []string
	for name, h := range wf.StageHealth {
		if !h.Ready {
			unready = append(unready, name)
		}
	}
	if len(unready) > 0 {
		slices.Sort(unready)
		attrs = append(attrs, logging.String("unready_stages", strings.Join(unready, ",")))
	}
	d.logger.Info("stockpile daemon stopped", attrs...)
}

func (d *Daemon) release() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Done is closed when the workflow stops, including after a store fault.
func (d *Daemon) Done() <-chan struct{} {
	return d.workflow.Done()
}

// Err reports the store fault that halted processing, if any.
func (d *Daemon) Err() error {
	return d.workflow.Err()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if status.Running {
		status.PID = os.Getpid()
	}
	return status
}

// ReadPID returns the PID recorded by a running daemon, or 0.
func ReadPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// IsRunning reports whether another process holds the daemon lock.
func IsRunning(cfg *config.Config) (bool, error) {
	probe := flock.New(cfg.LockPath())
	ok, err := probe.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// sweepStaging removes working directories left by completed or deleted
// jobs. Recent directories survive for one-shot process runs that do not
// take the lock.
func (d *Daemon) sweepStaging(ctx context.Context) {
	live, err := d.store.List(ctx, queue.StatusPending, queue.StatusProcessing, queue.StatusFailed)
	if err != nil {
		logging.WarnWithContext(d.logger, "staging sweep skipped", "staging_cleanup_failed", logging.Error(err))
		return
	}
	keep := make(map[string]struct{}, len(live))
	for _, job := range live {
		keep[job.ID] = struct{}{}
	}
	result := staging.Sweep(ctx, d.cfg.Paths.StagingDir, keep, stagingSweepMinAge, d.logger)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		d.logger.Info("staging sweep finished",
			logging.Int("removed", len(result.Removed)),
			logging.Int("errors", len(result.Errors)),
			logging.String(logging.FieldEventType, "staging_sweep"),
		)
	}
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
