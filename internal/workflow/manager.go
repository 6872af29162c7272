package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/logging"
	"stockpile/internal/metrics"
	"stockpile/internal/notifications"
	"stockpile/internal/queue"
	"stockpile/internal/stage"
)

// Manager coordinates queue processing using the stage pipeline.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	pipeline     *stage.Pipeline
	logger       *slog.Logger
	notifier     notifications.Notifier
	metrics      *metrics.Metrics
	pollInterval time.Duration
	limit        int
	now          func() time.Time

	heartbeat *HeartbeatMonitor
	wake      chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	jobCancel context.CancelFunc
	dispatch  sync.WaitGroup
	workers   sync.WaitGroup
	inFlight  int
	lastErr   error
	lastJob   *queue.Job
	fatalErr  error
	done      chan struct{}
	doneOnce  *sync.Once
}

// Option configures optional Manager behaviour.
type Option func(*Manager)

// WithNotifier sets the sink for failure notifications.
func WithNotifier(n notifications.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithMetrics records job and stage metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, pipeline *stage.Pipeline, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	limit := cfg.Workflow.MaxConcurrentJobs
	if limit <= 0 {
		limit = 1
	}
	poll := cfg.Workflow.PollInterval()
	if poll <= 0 {
		poll = time.Second
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		pipeline:     pipeline,
		logger:       logger,
		notifier:     notifications.NewNotifier(cfg),
		pollInterval: poll,
		limit:        limit,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		doneOnce:     &sync.Once{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.heartbeat = NewHeartbeatMonitor(store, logger, cfg.Workflow.Heartbeat(), cfg.Workflow.HeartbeatExpiry(), m.now)
	return m
}

// Wake asks the dispatcher to look for work now instead of at the next poll.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the manager stops, either through Stop or after a
// store fault.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Err returns the store fault that halted the manager, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr
}
