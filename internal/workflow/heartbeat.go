package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
)

// HeartbeatMonitor manages job heartbeats and stale job reclamation.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration, now func() time.Time) *HeartbeatMonitor {
	if now == nil {
		now = time.Now
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               now,
	}
}

// ReclaimStaleJobs returns jobs whose heartbeat is older than the timeout to
// pending.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context) (int, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range reclaimed {
		h.logger.Warn("reclaimed stale job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("stage", string(job.Stage)),
			logging.String(logging.FieldEventType, "heartbeat_reclaim"),
		)
	}
	return len(reclaimed), nil
}

// StartLoop refreshes the heartbeat of job until ctx ends. onFault receives
// store errors other than a lost claim or cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, job *queue.Job, onFault func(error)) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.UpdateHeartbeat(ctx, job)
			switch {
			case err == nil:
			case ctx.Err() != nil || errors.Is(err, context.Canceled):
				return
			case errors.Is(err, queue.ErrStaleJob):
				logger.Warn("heartbeat rejected; job claim lost", logging.Error(err))
				return
			default:
				logger.Error("heartbeat update failed", logging.Error(err))
				if onFault != nil {
					onFault(err)
				}
				return
			}
		}
	}
}
