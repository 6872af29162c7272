package queue

import (
	"context"
	"fmt"
	"time"
)

// Recover returns every processing job to pending, keeping its persisted
// stage so the next claim resumes at the following stage. It runs once at
// startup, before any claims.
func (s *Store) Recover(ctx context.Context) ([]*Job, error) {
	now := formatTime(s.timestamp())
	jobs, err := s.queryJobs(ctx,
		`UPDATE jobs
            SET status = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
          WHERE status = ?
      RETURNING `+jobColumns,
		StatusPending, now, StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("recover jobs: %w", err)
	}
	sortFIFO(jobs)
	return jobs, nil
}

// ReclaimStale returns processing jobs whose heartbeat is older than cutoff
// to pending. Any worker still holding the old claim loses ownership.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	now := formatTime(s.timestamp())
	jobs, err := s.queryJobs(ctx,
		`UPDATE jobs
            SET status = ?, claim_token = NULL, last_heartbeat = NULL, updated_at = ?
          WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)
      RETURNING `+jobColumns,
		StatusPending, now, StatusProcessing, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	sortFIFO(jobs)
	return jobs, nil
}

// RetryFailed moves failed jobs back to pending. With no ids every failed
// job is retried. Jobs resume after their last persisted stage.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) ([]*Job, error) {
	now := formatTime(s.timestamp())
	query := `UPDATE jobs
            SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ?
          WHERE status = ?`
	args := []any{StatusPending, now, StatusFailed}
	if len(ids) > 0 {
		query += ` AND job_id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` RETURNING ` + jobColumns

	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a failed job's file is already queued again", ErrDuplicateJob)
		}
		return nil, fmt.Errorf("retry failed jobs: %w", err)
	}
	sortFIFO(jobs)
	return jobs, nil
}
