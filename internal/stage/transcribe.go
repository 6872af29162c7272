package stage

import (
	"context"
	"path/filepath"
	"strings"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
	"stockpile/internal/source"
	"stockpile/internal/staging"
)

// TranscribeExecutor produces the transcript of a job's media.
type TranscribeExecutor struct {
	deps Deps
}

// NewTranscribeExecutor constructs the transcription stage.
func NewTranscribeExecutor(deps Deps) *TranscribeExecutor {
	return &TranscribeExecutor{deps: deps.normalized()}
}

func (e *TranscribeExecutor) Stage() queue.Stage { return queue.StageTranscribed }

// Execute fetches cloud media when needed and transcribes it.
func (e *TranscribeExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	logger := logging.WithContext(ctx, e.deps.Logger)
	if !source.IsSupportedMedia(job.FilePath) {
		return queue.StageOutput{}, services.Wrap(services.ErrUnsupportedMedia, string(e.Stage()), "check media",
			"unsupported extension "+filepath.Ext(job.FilePath), nil)
	}

	mediaPath := job.FilePath
	if e.deps.Fetcher != nil {
		dest := staging.JobDir(e.deps.Config.Paths.StagingDir, job.ID)
		fetched, err := retry.Execute(ctx, e.deps.Retry, e.deps.file(), func(ctx context.Context) (string, error) {
			return e.deps.Fetcher.Fetch(ctx, job.Source, job.FilePath, dest)
		})
		if err != nil {
			return queue.StageOutput{}, err
		}
		mediaPath = fetched
	}

	transcript, err := retry.Execute(ctx, e.deps.Retry, e.deps.api(), func(ctx context.Context) (string, error) {
		return e.deps.Transcribe.Transcribe(ctx, mediaPath)
	})
	if err != nil {
		return queue.StageOutput{}, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return queue.StageOutput{}, services.Wrap(services.ErrValidation, string(e.Stage()), "transcribe", "transcript is empty", nil)
	}
	logger.Info("transcription complete",
		logging.String("media", mediaPath),
		logging.Int("characters", len(transcript)),
	)
	return queue.StageOutput{Transcript: transcript}, nil
}

func (e *TranscribeExecutor) HealthCheck(context.Context) Health {
	if e.deps.Transcribe == nil {
		return missing(e.Stage(), "transcriber")
	}
	return ready(e.Stage())
}
