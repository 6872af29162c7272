package workflow

import (
	"context"
	"strings"

	"stockpile/internal/logging"
	"stockpile/internal/notifications"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
	"stockpile/internal/stage"
)

const maxFailureMessage = 1000

// failJob finalizes job as failed and sends one failure notification, even
// when the finalize write fails.
func (m *Manager) failJob(ctx context.Context, job *queue.Job, failed queue.Stage, stageErr error) error {
	logger := logging.WithContext(services.WithStage(ctx, string(failed)), m.logger)
	message := failureMessage(failed, stageErr)

	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.Error(stageErr),
		logging.Bool("fatal", services.IsFatal(stageErr)),
		logging.Bool("retries_exhausted", retry.IsExhausted(stageErr)),
		logging.Alert("stage_failure"),
	)
	m.setLastError(stageErr)

	finalizeErr := m.store.Finalize(ctx, job, queue.StatusFailed, message)

	details := stage.DetailsFor(job, m.now())
	details.Stage = string(failed)
	details.Error = message
	if err := m.notifier.Notify(ctx, notifications.OutcomeFailed, details); err != nil {
		logging.WarnWithContext(logger, "failure notification failed", "notification_failed", logging.Error(err))
	}

	m.metrics.JobFinished(string(queue.StatusFailed))
	if finalizeErr != nil {
		return m.storeFault(ctx, job, "finalize", finalizeErr)
	}
	m.setLastJob(job)
	return nil
}

func failureMessage(failed queue.Stage, err error) string {
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		msg = "failed without error detail"
	}
	// Errors built by services.Wrap already name the stage after the marker.
	prefix := string(failed) + ": "
	switch {
	case strings.HasPrefix(msg, prefix):
	case strings.Contains(msg, ": "+prefix):
		msg = prefix + strings.Replace(msg, ": "+prefix, ": ", 1)
	default:
		msg = prefix + msg
	}
	if runes := []rune(msg); len(runes) > maxFailureMessage {
		msg = string(runes[:maxFailureMessage]) + "..."
	}
	return msg
}
