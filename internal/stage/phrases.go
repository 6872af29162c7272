package stage

import (
	"context"
	"strings"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
)

// PhraseExecutor extracts search phrases from the transcript.
type PhraseExecutor struct {
	deps Deps
}

// NewPhraseExecutor constructs the phrase extraction stage.
func NewPhraseExecutor(deps Deps) *PhraseExecutor {
	return &PhraseExecutor{deps: deps.normalized()}
}

func (e *PhraseExecutor) Stage() queue.Stage { return queue.StagePhrasesExtracted }

func (e *PhraseExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	if strings.TrimSpace(job.Transcript) == "" {
		return queue.StageOutput{}, services.Wrap(services.ErrValidation, string(e.Stage()), "extract phrases", "job has no transcript", nil)
	}
	phrases, err := retry.Execute(ctx, e.deps.Retry, e.deps.api(), func(ctx context.Context) ([]string, error) {
		return e.deps.Phrases.ExtractPhrases(ctx, job.Transcript)
	})
	if err != nil {
		return queue.StageOutput{}, err
	}
	phrases = uniquePhrases(phrases)
	if len(phrases) == 0 {
		return queue.StageOutput{}, services.Wrap(services.ErrValidation, string(e.Stage()), "extract phrases", "no search phrases produced", nil)
	}
	logging.WithContext(ctx, e.deps.Logger).Info("search phrases extracted",
		logging.Int("count", len(phrases)),
		logging.Any("phrases", phrases),
	)
	return queue.StageOutput{SearchPhrases: phrases}, nil
}

func (e *PhraseExecutor) HealthCheck(context.Context) Health {
	if e.deps.Phrases == nil {
		return missing(e.Stage(), "phrase extractor")
	}
	return ready(e.Stage())
}

func uniquePhrases(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		clean := strings.Join(strings.Fields(phrase), " ")
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
	}
	return out
}
