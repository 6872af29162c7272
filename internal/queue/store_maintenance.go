package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	counts := make(map[Status]int, len(allStatuses))
	err := retryOnBusy(ctx, func() error {
		clear(counts)
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			counts[Status(status)] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return counts, nil
}

// Health summarizes the queue by lifecycle.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	counts, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Failed:     counts[StatusFailed],
		Completed:  counts[StatusCompleted],
	}
	for _, count := range counts {
		summary.Total += count
	}
	return summary, nil
}

// CheckHealth inspects the database file, schema and integrity.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err == nil {
		health.DatabaseExists = true
	} else if !errors.Is(err, os.ErrNotExist) {
		health.Error = err.Error()
		return health, nil
	}

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = fmt.Sprintf("ping: %v", err)
		return health, nil
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = fmt.Sprintf("schema version: %v", err)
		return health, nil
	}
	migrations, err := s.appliedMigrations(ctx)
	if err != nil {
		health.Error = fmt.Sprintf("migrations: %v", err)
		return health, nil
	}
	health.Migrations = migrations

	var tables int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='jobs'").Scan(&tables); err != nil {
		health.Error = fmt.Sprintf("table check: %v", err)
		return health, nil
	}
	health.TableExists = tables > 0

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = fmt.Sprintf("integrity check: %v", err)
		return health, nil
	}
	health.IntegrityCheck = integrity == "ok"

	if health.TableExists {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&health.TotalJobs); err != nil {
			health.Error = fmt.Sprintf("count jobs: %v", err)
		}
	}
	return health, nil
}
