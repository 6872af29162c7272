package stage

import (
	"errors"
	"log/slog"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/logging"
	"stockpile/internal/retry"
)

// Deps bundles what the executors share.
type Deps struct {
	Config   *config.Config
	Retry    *retry.Engine
	Policies retry.Presets
	Logger   *slog.Logger
	Now      func() time.Time

	Fetcher    MediaFetcher
	Transcribe Transcriber
	Phrases    PhraseExtractor
	Search     CandidateSearcher
	Score      CandidateScorer
	Download   VideoDownloader
	Organizer  ProjectOrganizer
	Publisher  Publisher
	Notifier   Notifier
}

func (d Deps) normalized() Deps {
	if d.Config == nil {
		cfg := config.Default()
		d.Config = &cfg
	}
	if d.Retry == nil {
		d.Retry = retry.New(retry.WithLogger(d.Logger))
	}
	if d.Policies.API.MaxAttempts == 0 {
		d.Policies = retry.PresetsFromConfig(d.Config.Retry)
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// api returns the API preset bounded by the configured stage timeout.
func (d Deps) api() retry.Policy {
	return d.Policies.API.WithAttemptTimeout(d.Config.Workflow.AttemptTimeout())
}

func (d Deps) download() retry.Policy {
	return d.Policies.Download.WithAttemptTimeout(d.Config.Workflow.AttemptTimeout())
}

func (d Deps) file() retry.Policy {
	return d.Policies.File.WithAttemptTimeout(d.Config.Workflow.AttemptTimeout())
}

func (d Deps) notify() retry.Policy {
	return d.Policies.Notify.WithAttemptTimeout(d.Config.Workflow.AttemptTimeout())
}

// NewPipeline builds the standard seven-stage pipeline and validates it.
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Config == nil {
		return nil, errors.New("stage deps: config required")
	}
	p := NewPipelineOf(
		NewTranscribeExecutor(deps),
		NewPhraseExecutor(deps),
		NewSearchExecutor(deps),
		NewScoreExecutor(deps),
		NewDownloadExecutor(deps),
		NewOrganizeExecutor(deps),
		NewNotifyExecutor(deps),
	)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
