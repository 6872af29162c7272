package stage

import (
	"context"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
)

// SearchExecutor finds candidate videos for every phrase.
type SearchExecutor struct {
	deps Deps
}

// NewSearchExecutor constructs the search stage.
func NewSearchExecutor(deps Deps) *SearchExecutor {
	return &SearchExecutor{deps: deps.normalized()}
}

func (e *SearchExecutor) Stage() queue.Stage { return queue.StageSearched }

// Execute searches each phrase in turn. A fatal error aborts the stage; a
// phrase whose retries run out is skipped.
func (e *SearchExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	logger := logging.WithContext(ctx, e.deps.Logger)
	search := e.deps.Config.Search
	policy := e.deps.api()

	var (
		candidates []queue.Candidate
		lastErr    error
		tooLong    int
	)
	for _, phrase := range job.SearchPhrases {
		found, err := retry.Execute(ctx, e.deps.Retry, policy, func(ctx context.Context) ([]queue.Candidate, error) {
			return e.deps.Search.SearchCandidates(ctx, phrase, search.MaxResultsPerPhrase)
		})
		if err != nil {
			if ctx.Err() != nil || !retry.IsExhausted(err) {
				return queue.StageOutput{}, err
			}
			logger.Warn("search failed for phrase; skipping",
				logging.String("phrase", phrase),
				logging.Error(err),
			)
			lastErr = err
			continue
		}

		seen := make(map[string]struct{}, len(found))
		kept := 0
		for _, c := range found {
			if _, dup := seen[c.VideoID]; dup || c.VideoID == "" {
				continue
			}
			seen[c.VideoID] = struct{}{}
			if search.MaxDurationSeconds > 0 && c.DurationSeconds > search.MaxDurationSeconds {
				tooLong++
				continue
			}
			c.Phrase = phrase
			candidates = append(candidates, c)
			kept++
		}
		logger.Debug("phrase searched",
			logging.String("phrase", phrase),
			logging.Int("results", len(found)),
			logging.Int("kept", kept),
		)
	}

	if len(candidates) == 0 {
		return queue.StageOutput{}, services.Wrap(services.ErrNotFound, string(e.Stage()), "search", "no candidates found for any phrase", lastErr)
	}
	logger.Info("candidate search complete",
		logging.Int("phrases", len(job.SearchPhrases)),
		logging.Int("candidates", len(candidates)),
		logging.Int("over_duration", tooLong),
	)
	return queue.StageOutput{Candidates: candidates}, nil
}

func (e *SearchExecutor) HealthCheck(context.Context) Health {
	if e.deps.Search == nil {
		return missing(e.Stage(), "candidate searcher")
	}
	return ready(e.Stage())
}
