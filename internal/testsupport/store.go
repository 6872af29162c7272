package testsupport

import (
	"context"
	"testing"

	"stockpile/internal/config"
	"stockpile/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending local job for path.
func NewJob(t testing.TB, store *queue.Store, path string) *queue.Job {
	t.Helper()

	job, err := store.Create(context.Background(), path, queue.SourceLocal)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// MustClaim claims exactly one specific job.
func MustClaim(t testing.TB, store *queue.Store, id string) *queue.Job {
	t.Helper()

	job, err := store.Claim(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	return job
}
