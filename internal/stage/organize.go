package stage

import (
	"context"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
)

// OrganizeExecutor builds the project folder and publishes it.
type OrganizeExecutor struct {
	deps Deps
}

// NewOrganizeExecutor constructs the organize stage.
func NewOrganizeExecutor(deps Deps) *OrganizeExecutor {
	return &OrganizeExecutor{deps: deps.normalized()}
}

func (e *OrganizeExecutor) Stage() queue.Stage { return queue.StageOrganized }

func (e *OrganizeExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	var folder string
	err := e.deps.Retry.Do(ctx, e.deps.file(), func(ctx context.Context) error {
		dir, _, err := e.deps.Organizer.Organize(ctx, *job)
		folder = dir
		return err
	})
	if err != nil {
		return queue.StageOutput{}, err
	}

	var link string
	if e.deps.Publisher != nil {
		link, err = retry.Execute(ctx, e.deps.Retry, e.deps.api(), func(ctx context.Context) (string, error) {
			return e.deps.Publisher.UploadAndOrganize(ctx, folder)
		})
		if err != nil {
			return queue.StageOutput{}, err
		}
	}
	logging.WithContext(ctx, e.deps.Logger).Info("project ready",
		logging.String("output_path", folder),
		logging.String("remote_link", link),
	)
	return queue.StageOutput{OutputPath: folder, RemoteLink: link}, nil
}

func (e *OrganizeExecutor) HealthCheck(context.Context) Health {
	if e.deps.Organizer == nil {
		return missing(e.Stage(), "organizer")
	}
	return ready(e.Stage())
}
