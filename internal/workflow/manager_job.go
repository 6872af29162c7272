package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/services"
	"stockpile/internal/staging"
)

// ProcessJob runs a claimed job from its next stage to a terminal status.
// Stage failures finalize the job as failed and return nil. The returned
// error is a store fault or the cancellation of ctx; a cancelled job is left
// processing.
func (m *Manager) ProcessJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("process job: nil job")
	}
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)
	started := m.now()

	// The heartbeat gets its own copy of the claim so it never races the
	// worker's writes to job.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, &queue.Job{ID: job.ID, ClaimToken: job.ClaimToken}, m.halt)
	defer func() {
		stopHeartbeat()
		hbWG.Wait()
	}()

	logger.Info("job started",
		logging.String("file", job.FilePath),
		logging.String("source", string(job.Source)),
		logging.String("resume_after", string(job.Stage)),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_start"),
	)

	for next := job.Stage.Next(); next != ""; next = job.Stage.Next() {
		exec, ok := m.pipeline.For(next)
		if !ok {
			return m.failJob(ctx, job, next, services.Wrap(services.ErrConfiguration, string(next), "pipeline", "no executor for stage", nil))
		}
		stageCtx := services.WithStage(ctx, string(next))
		stageLogger := logging.WithContext(stageCtx, m.logger)
		stageLogger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))

		stageStart := m.now()
		snapshot := *job
		out, err := exec.Execute(stageCtx, &snapshot)
		elapsed := m.now().Sub(stageStart)
		if err != nil {
			if ctx.Err() != nil {
				m.metrics.StageFinished(string(next), "canceled", elapsed)
				stageLogger.Info("job interrupted; left for recovery", logging.Error(err))
				return ctx.Err()
			}
			m.metrics.StageFinished(string(next), "failed", elapsed)
			return m.failJob(ctx, job, next, err)
		}
		m.metrics.StageFinished(string(next), "succeeded", elapsed)

		if err := m.store.Advance(ctx, job, next, out); err != nil {
			return m.storeFault(ctx, job, "advance", err)
		}
		stageLogger.Info("stage completed",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "stage_complete"),
		)
	}

	if err := m.store.Finalize(ctx, job, queue.StatusCompleted, ""); err != nil {
		return m.storeFault(ctx, job, "finalize", err)
	}
	m.metrics.JobFinished(string(queue.StatusCompleted))
	m.setLastJob(job)
	if err := staging.RemoveJob(m.cfg.Paths.StagingDir, job.ID); err != nil {
		logging.WarnWithContext(logger, "staging cleanup failed", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "disk space not reclaimed until the next daemon start"),
		)
	}
	logger.Info("job completed",
		logging.String("output_path", job.OutputPath),
		logging.String("remote_link", job.RemoteLink),
		logging.Int("clips", len(job.Downloads)),
		logging.Duration("elapsed", m.now().Sub(started)),
		logging.String(logging.FieldEventType, "job_complete"),
	)
	return nil
}

// storeFault sorts a store error into a lost claim (abandon quietly),
// cancellation, or a fault that must halt the manager.
func (m *Manager) storeFault(ctx context.Context, job *queue.Job, op string, err error) error {
	logger := logging.WithContext(ctx, m.logger)
	switch {
	case queue.IsOwnershipError(err):
		logger.Warn("job claim lost; abandoning",
			logging.String("op", op),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_abandoned"),
		)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%s job %s: %w", op, job.ID, err)
	}
}
