package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/source"
)

// CloudWatcher polls a remote source listing and queues new objects.
type CloudWatcher struct {
	src      source.Source
	store    *queue.Store
	adapter  *Adapter
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	seen    map[string]struct{}
	wg      sync.WaitGroup
}

// NewCloudWatcher polls src every interval.
func NewCloudWatcher(src source.Source, store *queue.Store, adapter *Adapter, interval time.Duration, logger *slog.Logger) *CloudWatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CloudWatcher{
		src:      src,
		store:    store,
		adapter:  adapter,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "cloud-watcher"),
		seen:     make(map[string]struct{}),
	}
}

// Start seeds the handled keys from the store and begins polling.
func (w *CloudWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("cloud watcher already running")
	}
	jobs, err := w.store.List(ctx)
	if err != nil {
		return err
	}
	kind := w.src.Kind()
	for _, job := range jobs {
		if job.Source == kind {
			w.seen[job.FilePath] = struct{}{}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.loop(runCtx)
	w.logger.Info("polling cloud drive",
		logging.Duration("interval", w.interval),
		logging.Int("known_objects", len(w.seen)),
	)
	return nil
}

// Stop ends polling.
func (w *CloudWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *CloudWatcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll lists the source once and hands unseen objects to the adapter. It
// returns the number of jobs created.
func (w *CloudWatcher) Poll(ctx context.Context) int {
	objects, err := w.src.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("cloud listing failed", logging.Error(err), logging.String(logging.FieldEventType, "cloud_list_failed"))
		}
		return 0
	}
	created := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return created
		}
		if w.isSeen(obj.Ref) {
			continue
		}
		ok, err := w.adapter.Handle(ctx, Event{Path: obj.Ref, Source: w.src.Kind()})
		switch {
		case err == nil:
			w.markSeen(obj.Ref)
			if ok {
				created++
			}
		case errors.Is(err, ErrUnstable):
			w.logger.Debug("object still uploading", logging.String("key", obj.Ref))
		case ctx.Err() != nil:
			return created
		default:
			w.logger.Warn("failed to queue object", logging.String("key", obj.Ref), logging.Error(err))
		}
	}
	return created
}

func (w *CloudWatcher) isSeen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

func (w *CloudWatcher) markSeen(key string) {
	w.mu.Lock()
	w.seen[key] = struct{}{}
	w.mu.Unlock()
}
