package stage

import (
	"cmp"
	"context"
	"slices"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/retry"
	"stockpile/internal/services"
)

// ScoreExecutor rates candidates and keeps the best per phrase.
type ScoreExecutor struct {
	deps Deps
}

// NewScoreExecutor constructs the scoring stage.
func NewScoreExecutor(deps Deps) *ScoreExecutor {
	return &ScoreExecutor{deps: deps.normalized()}
}

func (e *ScoreExecutor) Stage() queue.Stage { return queue.StageScored }

func (e *ScoreExecutor) Execute(ctx context.Context, job *queue.Job) (queue.StageOutput, error) {
	logger := logging.WithContext(ctx, e.deps.Logger)
	search := e.deps.Config.Search
	policy := e.deps.api()

	byPhrase := make(map[string][]queue.ScoredVideo)
	var order []string
	var lastErr error
	skipped := 0
	for _, candidate := range job.Candidates {
		score, err := retry.Execute(ctx, e.deps.Retry, policy, func(ctx context.Context) (int, error) {
			return e.deps.Score.ScoreCandidate(ctx, candidate)
		})
		if err != nil {
			if !skippable(ctx, err) {
				return queue.StageOutput{}, err
			}
			logger.Warn("scoring failed; skipping candidate",
				logging.String("video_id", candidate.VideoID),
				logging.Error(err),
			)
			lastErr = err
			skipped++
			continue
		}
		if clamped := queue.ClampScore(score); clamped != score {
			logger.Debug("score out of range; clamped",
				logging.String("video_id", candidate.VideoID),
				logging.Int("score", score),
				logging.Int("clamped", clamped),
			)
			score = clamped
		}
		if score < search.MinScore {
			continue
		}
		if _, ok := byPhrase[candidate.Phrase]; !ok {
			order = append(order, candidate.Phrase)
		}
		byPhrase[candidate.Phrase] = append(byPhrase[candidate.Phrase], queue.ScoredVideo{Candidate: candidate, Score: score})
	}

	selected := SelectTop(order, byPhrase, search.MaxVideosPerPhrase)
	if len(selected) == 0 {
		return queue.StageOutput{}, services.Wrap(services.ErrNotFound, string(e.Stage()), "score",
			"no candidate reached the minimum score", lastErr)
	}
	logger.Info("candidates scored",
		logging.Int("candidates", len(job.Candidates)),
		logging.Int("selected", len(selected)),
		logging.Int("skipped", skipped),
		logging.Int("min_score", search.MinScore),
	)
	return queue.StageOutput{Scored: selected}, nil
}

// SelectTop keeps the limit best videos of each phrase and orders the result
// by score, highest first. Ties keep phrase order then search order.
func SelectTop(phrases []string, byPhrase map[string][]queue.ScoredVideo, limit int) []queue.ScoredVideo {
	var out []queue.ScoredVideo
	for _, phrase := range phrases {
		videos := slices.Clone(byPhrase[phrase])
		slices.SortStableFunc(videos, func(a, b queue.ScoredVideo) int { return cmp.Compare(b.Score, a.Score) })
		if limit > 0 && len(videos) > limit {
			videos = videos[:limit]
		}
		out = append(out, videos...)
	}
	slices.SortStableFunc(out, func(a, b queue.ScoredVideo) int { return cmp.Compare(b.Score, a.Score) })
	return out
}

func (e *ScoreExecutor) HealthCheck(context.Context) Health {
	if e.deps.Score == nil {
		return missing(e.Stage(), "candidate scorer")
	}
	return ready(e.Stage())
}
