package workflow_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/queue"
	"stockpile/internal/stage"
	"stockpile/internal/testsupport"
	"stockpile/internal/workflow"
)

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	fakes   *testsupport.Collaborators
	manager *workflow.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	h := &harness{cfg: cfg, store: testsupport.MustOpenStore(t, cfg), fakes: testsupport.NewCollaborators()}
	h.rebuild(t)
	return h
}

// rebuild recreates the manager, picking up config and fake changes.
func (h *harness) rebuild(t *testing.T) {
	t.Helper()
	pipeline, err := stage.NewPipeline(h.fakes.Deps(h.cfg))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	h.manager = workflow.NewManager(h.cfg, h.store, pipeline, nil, workflow.WithNotifier(h.fakes.Notifier))
}

func (h *harness) newJob(t *testing.T, name string) *queue.Job {
	t.Helper()
	path := filepath.Join(h.cfg.Paths.InputDir, name)
	testsupport.WriteFile(t, path, 256)
	return testsupport.NewJob(t, h.store, path)
}

func (h *harness) get(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("Get(%s) = %v, %v", id, job, err)
	}
	return job
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertCompleted(t *testing.T, job *queue.Job) {
	t.Helper()
	if job.Status != queue.StatusCompleted || job.Stage != queue.StageNotified {
		t.Fatalf("job %s is %s at %s (%s)", job.ID, job.Status, job.Stage, job.ErrorMessage)
	}
	if job.Transcript == "" || len(job.SearchPhrases) == 0 || len(job.Candidates) == 0 ||
		len(job.Scored) == 0 || len(job.Downloads) == 0 || job.OutputPath == "" || job.NotifiedAt == nil {
		t.Fatalf("completed job is missing outputs: %+v", job)
	}
	if job.ClaimToken != "" || job.CompletedAt == nil {
		t.Fatalf("completed job still claimed: %+v", job)
	}
}
