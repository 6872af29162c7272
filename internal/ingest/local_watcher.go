package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stockpile/internal/fileutil"
	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/source"
)

// LocalWatcher feeds files from the input directory to an Adapter.
type LocalWatcher struct {
	dir      string
	lister   *source.Local
	store    *queue.Store
	adapter  *Adapter
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	empty   map[string]int
	wg      sync.WaitGroup
}

// maxEmptyChecks is how many zero-byte observations a path gets before the
// watcher waits for a filesystem event instead of rechecking.
const maxEmptyChecks = 3

// NewLocalWatcher watches dir. Events for a path are coalesced until it has
// been quiet for debounce.
func NewLocalWatcher(dir string, lister *source.Local, store *queue.Store, adapter *Adapter, debounce time.Duration, logger *slog.Logger) *LocalWatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &LocalWatcher{
		dir:      dir,
		lister:   lister,
		store:    store,
		adapter:  adapter,
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "local-watcher"),
		pending:  make(map[string]*time.Timer),
		empty:    make(map[string]int),
	}
}

// Start scans the directory for files without a job, then follows
// filesystem events until Stop or ctx cancellation.
func (w *LocalWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("local watcher already running")
	}
	if strings.TrimSpace(w.dir) == "" {
		return errors.New("local watcher: input directory not configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.addTree(watcher, w.dir); err != nil {
		watcher.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.watcher = watcher
	w.running = true

	w.wg.Add(2)
	go w.scan(runCtx)
	go w.loop(runCtx, watcher)
	w.logger.Info("watching input directory", logging.String("dir", w.dir))
	return nil
}

// Stop ends event processing and waits for in-flight handlers.
func (w *LocalWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, watcher := w.cancel, w.watcher
	w.running = false
	w.cancel = nil
	w.watcher = nil
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	cancel()
	watcher.Close()
	w.wg.Wait()
}

func (w *LocalWatcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// scan queues files that have never had a job.
func (w *LocalWatcher) scan(ctx context.Context) {
	defer w.wg.Done()
	objects, err := w.lister.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("startup scan failed", logging.Error(err))
		}
		return
	}
	for _, obj := range objects {
		existing, err := w.store.LatestForPath(ctx, obj.Ref, queue.SourceLocal)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("startup scan lookup failed", logging.String("file", obj.Ref), logging.Error(err))
			}
			return
		}
		if existing != nil {
			continue
		}
		w.schedule(ctx, obj.Ref)
	}
}

func (w *LocalWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", logging.Error(err))
		}
	}
}

func (w *LocalWatcher) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.empty, ev.Name)
		w.mu.Unlock()
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(watcher, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", logging.String("dir", ev.Name), logging.Error(err))
			}
			return
		}
	}
	if fileutil.IsPartial(name) || !source.IsSupportedMedia(name) {
		return
	}
	w.mu.Lock()
	delete(w.empty, ev.Name)
	w.mu.Unlock()
	w.schedule(ctx, ev.Name)
}

// schedule (re)arms the per-path debounce timer.
func (w *LocalWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if timer, ok := w.pending[path]; ok {
		if timer.Stop() {
			timer.Reset(w.debounce)
			return
		}
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.pending[path] = timer
}

func (w *LocalWatcher) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	_, err := w.adapter.Handle(ctx, Event{Path: path, Source: queue.SourceLocal})
	if !errors.Is(err, ErrEmpty) {
		w.mu.Lock()
		delete(w.empty, path)
		w.mu.Unlock()
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrEmpty):
		w.mu.Lock()
		w.empty[path]++
		checks := w.empty[path]
		w.mu.Unlock()
		if checks >= maxEmptyChecks {
			w.logger.Info("file is still empty; waiting for writes",
				logging.String("file", path),
				logging.Int("checks", checks),
				logging.String(logging.FieldEventType, "ingest_empty"),
			)
			return
		}
		w.schedule(ctx, path)
	case errors.Is(err, ErrUnstable):
		w.logger.Debug("file still changing; waiting", logging.String("file", path))
		w.schedule(ctx, path)
	case ctx.Err() != nil:
	default:
		w.logger.Warn("failed to queue file",
			logging.String("file", path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ingest_failed"),
		)
	}
}
