package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
	"stockpile/internal/testsupport"
	"stockpile/internal/workflow"
)

func TestReclaimStaleJobsReturnsExpiredClaims(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.newJob(t, "talk.mp4")
	claimed := testsupport.MustClaim(t, h.store, job.ID)

	future := func() time.Time { return time.Now().Add(time.Hour) }
	monitor := workflow.NewHeartbeatMonitor(h.store, logging.NewNop(), time.Second, time.Minute, future)
	n, err := monitor.ReclaimStaleJobs(ctx)
	if err != nil {
		t.Fatalf("ReclaimStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", n)
	}
	stored := h.get(t, job.ID)
	if stored.Status != queue.StatusPending || stored.ClaimToken != "" {
		t.Fatalf("expected pending unclaimed job, got %+v", stored)
	}
	// The previous owner can no longer write.
	if err := h.store.UpdateHeartbeat(ctx, claimed); err == nil {
		t.Fatal("expected stale claim to be rejected")
	}
}

func TestReclaimStaleJobsKeepsFreshClaims(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, "talk.mp4")
	testsupport.MustClaim(t, h.store, job.ID)

	monitor := workflow.NewHeartbeatMonitor(h.store, logging.NewNop(), time.Second, time.Minute, nil)
	n, err := monitor.ReclaimStaleJobs(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("ReclaimStaleJobs = %d, %v", n, err)
	}
	if got := h.get(t, job.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("fresh claim reclaimed: %s", got)
	}
}

func TestHeartbeatLoopStopsWhenClaimLost(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, "talk.mp4")
	claimed := testsupport.MustClaim(t, h.store, job.ID)
	if _, err := h.store.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	monitor := workflow.NewHeartbeatMonitor(h.store, logging.NewNop(), 10*time.Millisecond, time.Minute, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	faults := make(chan error, 1)
	go monitor.StartLoop(context.Background(), &wg, claimed, func(err error) { faults <- err })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat loop kept running after losing its claim")
	}
	select {
	case err := <-faults:
		t.Fatalf("lost claim reported as fault: %v", err)
	default:
	}
}
