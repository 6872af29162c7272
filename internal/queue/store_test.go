package queue_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stockpile/internal/queue"
	"stockpile/internal/testsupport"
)

func outputFor(stage queue.Stage) queue.StageOutput {
	candidate := queue.Candidate{Phrase: "city skyline", VideoID: "abc", Title: "Skyline", SourceURL: "https://example.com/abc", DurationSeconds: 30}
	scored := queue.ScoredVideo{Candidate: candidate, Score: 8}
	switch stage {
	case queue.StageTranscribed:
		return queue.StageOutput{Transcript: "hello world"}
	case queue.StagePhrasesExtracted:
		return queue.StageOutput{SearchPhrases: []string{"city skyline"}}
	case queue.StageSearched:
		return queue.StageOutput{Candidates: []queue.Candidate{candidate}}
	case queue.StageScored:
		return queue.StageOutput{Scored: []queue.ScoredVideo{scored}}
	case queue.StageDownloaded:
		scored.LocalPath = "/tmp/score08_skyline.mp4"
		return queue.StageOutput{Downloads: []queue.ScoredVideo{scored}}
	case queue.StageOrganized:
		return queue.StageOutput{OutputPath: "/tmp/broll_project"}
	default:
		return queue.StageOutput{}
	}
}

func advanceTo(t *testing.T, store *queue.Store, job *queue.Job, target queue.Stage) {
	t.Helper()
	for job.Stage != target {
		next := job.Stage.Next()
		if next == "" {
			t.Fatalf("cannot advance past %s towards %s", job.Stage, target)
		}
		if err := store.Advance(context.Background(), job, next, outputFor(next)); err != nil {
			t.Fatalf("Advance(%s): %v", next, err)
		}
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %#v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("expected schema version 1, got %d", health.SchemaVersion)
	}
	if len(health.Migrations) != 2 {
		t.Fatalf("expected 2 applied migrations, got %v", health.Migrations)
	}
}

func TestReopenKeepsJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job := testsupport.NewJob(t, store, "/media/a.mp4")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched == nil || fetched.FilePath != "/media/a.mp4" || fetched.Stage != queue.StageDetected {
		t.Fatalf("unexpected job after reopen: %#v", fetched)
	}
}

func TestCreateRejectsDuplicateWhileActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "/media/a.mp4")
	if first.Status != queue.StatusPending || first.Stage != queue.StageDetected {
		t.Fatalf("unexpected new job: %#v", first)
	}

	_, err := store.Create(ctx, "/media/a.mp4", queue.SourceLocal)
	if !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	// Same path from another source is a different job.
	if _, err := store.Create(ctx, "/media/a.mp4", queue.SourceCloudDrive); err != nil {
		t.Fatalf("Create cloud job: %v", err)
	}

	claimed := testsupport.MustClaim(t, store, first.ID)
	if _, err := store.Create(ctx, "/media/a.mp4", queue.SourceLocal); !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob while processing, got %v", err)
	}

	if err := store.Finalize(ctx, claimed, queue.StatusFailed, "boom"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	again, err := store.Create(ctx, "/media/a.mp4", queue.SourceLocal)
	if err != nil {
		t.Fatalf("Create after terminal: %v", err)
	}
	if again.ID == first.ID {
		t.Fatal("expected a new job id")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Create(ctx, "  ", queue.SourceLocal); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := store.Create(ctx, "/media/a.mp4", queue.Source("ftp")); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestClaimNextIsFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		job := testsupport.NewJob(t, store, fmt.Sprintf("/media/%d.mp4", i))
		ids = append(ids, job.ID)
	}

	claimed, err := store.ClaimNext(ctx, 2)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != ids[0] || claimed[1].ID != ids[1] {
		t.Fatalf("expected first two jobs in order, got %v", jobIDs(claimed))
	}
	for _, job := range claimed {
		if job.Status != queue.StatusProcessing || job.ClaimToken == "" || job.Attempts != 1 {
			t.Fatalf("unexpected claimed job: %#v", job)
		}
	}

	rest, err := store.ClaimNext(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != ids[2] || rest[1].ID != ids[3] {
		t.Fatalf("expected remaining jobs in order, got %v", jobIDs(rest))
	}

	none, err := store.ClaimNext(ctx, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no pending jobs, got %v", jobIDs(none))
	}
}

func TestClaimNextConcurrentClaimsAreDisjoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		testsupport.NewJob(t, store, fmt.Sprintf("/media/%02d.mp4", i))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := store.ClaimNext(ctx, 1)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				seen[jobs[0].ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func TestAdvancePersistsEachStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "/media/a.mp4")
	claimed := testsupport.MustClaim(t, store, job.ID)
	advanceTo(t, store, claimed, queue.StageNotified)

	if err := store.Finalize(ctx, claimed, queue.StatusCompleted, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Status != queue.StatusCompleted || fetched.Stage != queue.StageNotified {
		t.Fatalf("unexpected final job: %#v", fetched)
	}
	if fetched.Transcript != "hello world" || len(fetched.SearchPhrases) != 1 || len(fetched.Candidates) != 1 {
		t.Fatalf("expected early outputs persisted, got %#v", fetched)
	}
	if len(fetched.Downloads) != 1 || fetched.Downloads[0].LocalPath == "" || fetched.Downloads[0].Score != 8 {
		t.Fatalf("unexpected downloads: %#v", fetched.Downloads)
	}
	if fetched.OutputPath != "/tmp/broll_project" || fetched.NotifiedAt == nil || fetched.CompletedAt == nil {
		t.Fatalf("expected terminal fields set, got %#v", fetched)
	}
	if fetched.ClaimToken != "" {
		t.Fatalf("expected claim cleared, got %q", fetched.ClaimToken)
	}
}

func TestAdvanceRejectsSkippedStageAndEmptyOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)

	err := store.Advance(ctx, job, queue.StageSearched, outputFor(queue.StageSearched))
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for skipped stage, got %v", err)
	}
	err = store.Advance(ctx, job, queue.StageTranscribed, queue.StageOutput{Transcript: "  "})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for empty output, got %v", err)
	}
	if job.Stage != queue.StageDetected {
		t.Fatalf("stage changed after rejected advance: %s", job.Stage)
	}
}

func TestAdvanceWithStaleClaimFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)
	stale := *job
	if err := store.Advance(ctx, job, queue.StageTranscribed, outputFor(queue.StageTranscribed)); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// A second writer still at the previous stage loses.
	err := store.Advance(ctx, &stale, queue.StageTranscribed, queue.StageOutput{Transcript: "other"})
	if !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob, got %v", err)
	}

	// A recovered job invalidates the old claim token.
	if _, err := store.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	err = store.Advance(ctx, job, queue.StagePhrasesExtracted, outputFor(queue.StagePhrasesExtracted))
	if !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob after recover, got %v", err)
	}

	fetched, _ := store.Get(ctx, job.ID)
	if fetched.Transcript != "hello world" || fetched.Stage != queue.StageTranscribed {
		t.Fatalf("stale write leaked into store: %#v", fetched)
	}
}

func TestRecoverResumesAtNextStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)
	advanceTo(t, store, job, queue.StageSearched)

	recovered, err := store.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(recovered) != 1 || recovered[0].Status != queue.StatusPending {
		t.Fatalf("unexpected recovered jobs: %#v", recovered)
	}

	reclaimed, err := store.ClaimNext(ctx, 1)
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("ClaimNext: %v %v", reclaimed, err)
	}
	if reclaimed[0].NextStage() != queue.StageScored {
		t.Fatalf("expected resume at scored, got %s", reclaimed[0].NextStage())
	}
	if reclaimed[0].Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", reclaimed[0].Attempts)
	}
	if len(reclaimed[0].Candidates) != 1 {
		t.Fatalf("expected candidates kept, got %#v", reclaimed[0].Candidates)
	}
}

func TestFinalizeRequiresNotifiedForCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)
	advanceTo(t, store, job, queue.StageOrganized)

	if err := store.Finalize(ctx, job, queue.StatusCompleted, ""); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := store.Finalize(ctx, job, queue.StatusPending, ""); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for non-terminal outcome, got %v", err)
	}
	if err := store.Finalize(ctx, job, queue.StatusFailed, "organizer exploded"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	fetched, _ := store.Get(ctx, job.ID)
	if fetched.Status != queue.StatusFailed || fetched.ErrorMessage != "organizer exploded" {
		t.Fatalf("unexpected failed job: %#v", fetched)
	}
	if err := store.Finalize(ctx, job, queue.StatusFailed, "again"); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob finalizing twice, got %v", err)
	}
}

func TestReclaimStaleUsesHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)

	reclaimed, err := store.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("fresh heartbeat reclaimed: %v", jobIDs(reclaimed))
	}
	if err := store.UpdateHeartbeat(ctx, job); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	reclaimed, err = store.ReclaimStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != job.ID {
		t.Fatalf("expected job reclaimed, got %v", jobIDs(reclaimed))
	}
	if err := store.UpdateHeartbeat(ctx, job); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("expected ErrStaleJob after reclaim, got %v", err)
	}
}

func TestRetryFailedKeepsStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)
	advanceTo(t, store, job, queue.StageTranscribed)
	if err := store.Finalize(ctx, job, queue.StatusFailed, "llm down"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	retried, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if len(retried) != 1 || retried[0].Status != queue.StatusPending || retried[0].ErrorMessage != "" {
		t.Fatalf("unexpected retried job: %#v", retried)
	}
	if retried[0].NextStage() != queue.StagePhrasesExtracted {
		t.Fatalf("expected resume at phrases_extracted, got %s", retried[0].NextStage())
	}
}

func TestRetryFailedConflictsWithActiveDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustClaim(t, store, testsupport.NewJob(t, store, "/media/a.mp4").ID)
	if err := store.Finalize(ctx, job, queue.StatusFailed, "boom"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	testsupport.NewJob(t, store, "/media/a.mp4")

	if _, err := store.RetryFailed(ctx, job.ID); !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestRemoveOnlyTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "/media/a.mp4")
	if err := store.Remove(ctx, job.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition removing pending job, got %v", err)
	}
	if err := store.Remove(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	claimed := testsupport.MustClaim(t, store, job.ID)
	if err := store.Finalize(ctx, claimed, queue.StatusFailed, "x"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := store.Remove(ctx, job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fetched, _ := store.Get(ctx, job.ID); fetched != nil {
		t.Fatalf("expected job removed, got %#v", fetched)
	}
}

func TestHealthAndLookups(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	path := filepath.Join(cfg.Paths.InputDir, "a.mp4")
	first := testsupport.NewJob(t, store, path)
	testsupport.NewJob(t, store, filepath.Join(cfg.Paths.InputDir, "b.mp4"))
	testsupport.MustClaim(t, store, first.ID)

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	latest, err := store.LatestForPath(ctx, path, queue.SourceLocal)
	if err != nil || latest == nil || latest.ID != first.ID {
		t.Fatalf("LatestForPath: %#v %v", latest, err)
	}
	if none, err := store.LatestForPath(ctx, "/nowhere.mp4", queue.SourceLocal); err != nil || none != nil {
		t.Fatalf("expected nil for unknown path, got %#v %v", none, err)
	}

	found, err := store.FindByPrefix(ctx, first.ID[:8])
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindByPrefix: %#v %v", found, err)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("List pending: %v %v", jobIDs(pending), err)
	}
	recent, err := store.Recent(ctx, 5)
	if err != nil || len(recent) != 2 || recent[0].ID != first.ID {
		t.Fatalf("Recent: %v %v", jobIDs(recent), err)
	}
}

func jobIDs(jobs []*queue.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.Label())
	}
	return ids
}
