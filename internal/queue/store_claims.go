package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ClaimNext atomically moves up to limit of the oldest pending jobs to
// processing and returns them in FIFO order. Each returned job carries a
// claim token that later writes must present.
func (s *Store) ClaimNext(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := formatTime(s.timestamp())
	token := uuid.NewString()
	jobs, err := s.queryJobs(ctx,
		`UPDATE jobs
            SET status = ?, claim_token = ? || ':' || job_id, last_heartbeat = ?, updated_at = ?, attempts = attempts + 1
          WHERE job_id IN (
                SELECT job_id FROM jobs WHERE status = ? ORDER BY created_at, seq LIMIT ?)
            AND status = ?
      RETURNING `+jobColumns,
		StatusProcessing, token, now, now, StatusPending, limit, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	sortFIFO(jobs)
	return jobs, nil
}

// Claim moves one specific pending job to processing.
func (s *Store) Claim(ctx context.Context, id string) (*Job, error) {
	now := formatTime(s.timestamp())
	token := uuid.NewString()
	jobs, err := s.queryJobs(ctx,
		`UPDATE jobs
            SET status = ?, claim_token = ? || ':' || job_id, last_heartbeat = ?, updated_at = ?, attempts = attempts + 1
          WHERE job_id = ? AND status = ?
      RETURNING `+jobColumns,
		StatusProcessing, token, now, now, id, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if len(jobs) == 1 {
		return jobs[0], nil
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, existing.Status)
}

func sortFIFO(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].Seq < jobs[j].Seq
	})
}

// Advance persists the output of the stage that follows job.Stage. The write
// only lands while the caller still owns the claim and the job has not moved;
// otherwise ErrStaleJob is returned and nothing changes. On success job is
// updated in place.
func (s *Store) Advance(ctx context.Context, job *Job, next Stage, out StageOutput) error {
	if job == nil {
		return errors.New("advance: nil job")
	}
	if expected := job.Stage.Next(); next == "" || next != expected {
		return fmt.Errorf("%w: %s cannot follow %s", ErrInvalidTransition, next, job.Stage)
	}
	if err := out.validateFor(next); err != nil {
		return err
	}

	now := s.timestamp()
	set, args, err := stageColumns(next, out, now)
	if err != nil {
		return fmt.Errorf("advance %s: %w", next, err)
	}
	query := `UPDATE jobs SET current_stage = ?, updated_at = ?, last_heartbeat = ?, ` + set +
		` WHERE job_id = ? AND claim_token = ? AND status = ? AND current_stage = ?`
	params := append([]any{next, formatTime(now), formatTime(now)}, args...)
	params = append(params, job.ID, job.ClaimToken, StatusProcessing, job.Stage)

	res, err := s.execWithRetry(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("advance %s: %w", next, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("advance %s: %w", next, err)
	} else if n == 0 {
		return fmt.Errorf("%w: job %s at %s", ErrStaleJob, job.ID, job.Stage)
	}

	applyOutput(job, next, out, now)
	job.Stage = next
	job.UpdatedAt = now
	job.LastHeartbeat = &now
	return nil
}

func stageColumns(stage Stage, out StageOutput, now time.Time) (string, []any, error) {
	switch stage {
	case StageTranscribed:
		return "transcript = ?", []any{out.Transcript}, nil
	case StagePhrasesExtracted:
		raw, err := encodeJSON(out.SearchPhrases)
		return "search_phrases_json = ?", []any{raw}, err
	case StageSearched:
		raw, err := encodeJSON(out.Candidates)
		return "candidates_json = ?", []any{raw}, err
	case StageScored:
		raw, err := encodeJSON(out.Scored)
		return "scored_json = ?", []any{raw}, err
	case StageDownloaded:
		raw, err := encodeJSON(out.Downloads)
		return "downloads_json = ?", []any{raw}, err
	case StageOrganized:
		return "output_path = ?, remote_link = ?", []any{out.OutputPath, nullableString(out.RemoteLink)}, nil
	case StageNotified:
		at := out.NotifiedAt
		if at.IsZero() {
			at = now
		}
		return "notified_at = ?", []any{formatTime(at)}, nil
	default:
		return "", nil, fmt.Errorf("%w: stage %q has no output", ErrInvalidTransition, stage)
	}
}

func applyOutput(job *Job, stage Stage, out StageOutput, now time.Time) {
	switch stage {
	case StageTranscribed:
		job.Transcript = out.Transcript
	case StagePhrasesExtracted:
		job.SearchPhrases = append([]string(nil), out.SearchPhrases...)
	case StageSearched:
		job.Candidates = append([]Candidate(nil), out.Candidates...)
	case StageScored:
		job.Scored = append([]ScoredVideo(nil), out.Scored...)
	case StageDownloaded:
		job.Downloads = append([]ScoredVideo(nil), out.Downloads...)
	case StageOrganized:
		job.OutputPath = out.OutputPath
		job.RemoteLink = out.RemoteLink
	case StageNotified:
		at := out.NotifiedAt
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		job.NotifiedAt = &at
	}
}

// Finalize moves an owned job to a terminal status. A job may only complete
// once its notified stage has been persisted. message is recorded for
// failures.
func (s *Store) Finalize(ctx context.Context, job *Job, outcome Status, message string) error {
	if job == nil {
		return errors.New("finalize: nil job")
	}
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, outcome)
	}
	if outcome == StatusCompleted && job.Stage != StageNotified {
		return fmt.Errorf("%w: job %s cannot complete at stage %s", ErrInvalidTransition, job.ID, job.Stage)
	}
	if outcome == StatusCompleted {
		message = ""
	}

	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
            SET status = ?, error_message = ?, completed_at = ?, updated_at = ?, claim_token = NULL, last_heartbeat = NULL
          WHERE job_id = ? AND claim_token = ? AND status = ?`,
		outcome, nullableString(message), formatTime(now), formatTime(now),
		job.ID, job.ClaimToken, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: job %s", ErrStaleJob, job.ID)
	}

	job.Status = outcome
	job.ErrorMessage = message
	job.ClaimToken = ""
	job.LastHeartbeat = nil
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp of an owned job.
func (s *Store) UpdateHeartbeat(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("heartbeat: nil job")
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE job_id = ? AND claim_token = ? AND status = ?`,
		formatTime(now), job.ID, job.ClaimToken, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s", ErrStaleJob, job.ID)
	}
	job.LastHeartbeat = &now
	return nil
}
