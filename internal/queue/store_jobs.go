package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Create inserts a pending job for path. It fails with ErrDuplicateJob while
// another pending or processing job tracks the same path and source.
func (s *Store) Create(ctx context.Context, path string, source Source) (*Job, error) {
	ctx = ensureContext(ctx)
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("create job: file path is required")
	}
	if _, ok := ParseSource(string(source)); !ok {
		return nil, fmt.Errorf("create job: unknown source %q", source)
	}

	now := s.timestamp()
	job := &Job{
		ID:        uuid.NewString(),
		FilePath:  path,
		Source:    source,
		Status:    StatusPending,
		Stage:     StageDetected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (job_id, file_path, source, status, current_stage, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FilePath, job.Source, job.Status, job.Stage, formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s.duplicateError(ctx, path, source)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		job.Seq = seq
	}
	return job, nil
}

func (s *Store) duplicateError(ctx context.Context, path string, source Source) error {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM jobs WHERE file_path = ? AND source = ? AND status IN (?, ?) LIMIT 1`,
		path, source, StatusPending, StatusProcessing,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrDuplicateJob, path, source)
	}
	return fmt.Errorf("%w: %s (%s) is tracked by job %s", ErrDuplicateJob, path, source, id)
}

// Get fetches a job by id. It returns nil, nil when the job does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// FindByPrefix resolves a job from a full id or a unique id prefix.
func (s *Store) FindByPrefix(ctx context.Context, prefix string) (*Job, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	switch len(jobs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return jobs[0], nil
	default:
		return nil, fmt.Errorf("job id prefix %q is ambiguous", prefix)
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// List returns jobs with the given statuses (all jobs when none are given),
// oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, seq`
	jobs, err := s.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Recent returns the most recently updated jobs.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 10
	}
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs: %w", err)
	}
	return jobs, nil
}

// LatestForPath returns the newest job for path and source, or nil when the
// file has never been ingested.
func (s *Store) LatestForPath(ctx context.Context, path string, source Source) (*Job, error) {
	jobs, err := s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE file_path = ? AND source = ? ORDER BY created_at DESC, seq DESC LIMIT 1`,
		path, source)
	if err != nil {
		return nil, fmt.Errorf("latest job for path: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// Remove deletes a terminal job.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE job_id = ? AND status IN (?, ?)`,
		id, StatusCompleted, StatusFailed)
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
}
