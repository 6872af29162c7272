package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/metrics"
	"stockpile/internal/queue"
	"stockpile/internal/services"
	"stockpile/internal/source"
)

var (
	// ErrUnstable reports a file that is empty or still changing size.
	ErrUnstable = errors.New("file not stable")
	// ErrEmpty reports a file that stayed at zero bytes. It matches ErrUnstable.
	ErrEmpty = fmt.Errorf("%w: file is empty", ErrUnstable)
)

// Event announces a file that may need a job.
type Event struct {
	Path   string
	Source queue.Source
}

// Waker is told when new work is queued.
type Waker interface {
	Wake()
}

// Sizer reports the current size of a file in a source.
type Sizer interface {
	Size(ctx context.Context, kind queue.Source, ref string) (int64, error)
}

// RegistrySizer adapts a source registry to Sizer.
type RegistrySizer struct {
	Registry *source.Registry
}

// Size looks up the source for kind and asks it for the size of ref.
func (r RegistrySizer) Size(ctx context.Context, kind queue.Source, ref string) (int64, error) {
	src, err := r.Registry.Get(kind)
	if err != nil {
		return 0, err
	}
	return src.Size(ctx, ref)
}

// Adapter creates jobs for stable files.
type Adapter struct {
	store    *queue.Store
	sizer    Sizer
	waker    Waker
	debounce time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithWaker sets the component woken after a job is created.
func WithWaker(w Waker) Option {
	return func(a *Adapter) { a.waker = w }
}

// WithMetrics counts created jobs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithSleep replaces the debounce wait (used in tests).
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.sleep = fn
		}
	}
}

// NewAdapter builds an adapter that waits debounce between size checks.
func NewAdapter(store *queue.Store, sizer Sizer, debounce time.Duration, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Adapter{
		store:    store,
		sizer:    sizer,
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle creates a pending job for ev once the file size holds steady across
// the debounce window. It returns created=false with a nil error when a live
// job already tracks the file.
func (a *Adapter) Handle(ctx context.Context, ev Event) (bool, error) {
	path := strings.TrimSpace(ev.Path)
	if path == "" {
		return false, errors.New("ingest: empty path")
	}
	if !source.IsSupportedMedia(path) {
		return false, services.Wrap(services.ErrUnsupportedMedia, "", "ingest", path, nil)
	}

	first, err := a.sizer.Size(ctx, ev.Source, path)
	if err != nil {
		return false, err
	}
	if a.debounce > 0 {
		if err := a.sleep(ctx, a.debounce); err != nil {
			return false, err
		}
	}
	second, err := a.sizer.Size(ctx, ev.Source, path)
	if err != nil {
		return false, err
	}
	if first == 0 && second == 0 {
		return false, fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	if first == 0 || first != second {
		return false, fmt.Errorf("%w: %s (%d -> %d bytes)", ErrUnstable, path, first, second)
	}

	job, err := a.store.Create(ctx, path, ev.Source)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			a.logger.Debug("file already queued", logging.String("file", path), logging.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("ingest %s: %w", path, err)
	}
	a.metrics.JobCreated(string(ev.Source))
	a.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("file", path),
		logging.String("source", string(ev.Source)),
		logging.Int64("size_bytes", second),
		logging.String(logging.FieldEventType, "job_created"),
	)
	if a.waker != nil {
		a.waker.Wake()
	}
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
