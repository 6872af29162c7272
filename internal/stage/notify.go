package stage

import (
	"context"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/notifications"
	"stockpile/internal/queue"
)

// NotifyExecutor announces a finished project. Delivery failures are logged
// and never fail the job.
type NotifyExecutor struct {
	deps Deps
}

// NewNotifyExecutor constructs the notify stage.
func NewNotifyExecutor(deps Deps) *NotifyExecutor {
	return &NotifyExecutor{deps: deps.normalized()}
}

func (e *NotifyExecutor) Stage() queue.Stage { return queue.StageNotified }

func (e *NotifyExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	now := e.deps.Now()
	details := DetailsFor(job, now)
	details.Stage = string(e.Stage())
	err := e.deps.Retry.Do(ctx, e.deps.notify(), func(ctx context.Context) error {
		return e.deps.Notifier.Notify(ctx, notifications.OutcomeCompleted, details)
	})
	if err != nil {
		if ctx.Err() != nil {
			return queue.StageOutput{}, ctx.Err()
		}
		logging.WarnWithContext(logging.WithContext(ctx, e.deps.Logger), "completion notification failed", "notification_failed",
			logging.Error(err),
		)
	}
	return queue.StageOutput{NotifiedAt: now}, nil
}

func (e *NotifyExecutor) HealthCheck(context.Context) Health {
	if e.deps.Notifier == nil {
		return missing(e.Stage(), "notifier")
	}
	return ready(e.Stage())
}

// DetailsFor summarises job for a notification sent at now.
func DetailsFor(job *queue.Job, now time.Time) notifications.Details {
	details := notifications.Details{
		JobID:      job.ID,
		FilePath:   job.FilePath,
		Stage:      string(job.Stage),
		OutputPath: job.OutputPath,
		RemoteLink: job.RemoteLink,
		Phrases:    len(job.SearchPhrases),
		Downloads:  len(job.Downloads),
		Error:      job.ErrorMessage,
	}
	if !job.CreatedAt.IsZero() && now.After(job.CreatedAt) {
		details.Elapsed = now.Sub(job.CreatedAt)
	}
	return details
}
