package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/queue"
)

// Start recovers interrupted jobs and begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if err := m.pipeline.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	recovered, err := m.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	for _, job := range recovered {
		m.logger.Info("recovered interrupted job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("resume_after", string(job.Stage)),
			logging.String(logging.FieldEventType, "job_recovered"),
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	// Jobs outlive the dispatcher until Stop's grace period runs out.
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.jobCancel = jobCancel
	m.running = true
	m.fatalErr = nil
	m.done = make(chan struct{})
	m.doneOnce = &sync.Once{}

	m.dispatch.Add(1)
	go m.runDispatcher(runCtx, jobCtx)
	m.logger.Info("workflow started",
		logging.Int("max_concurrent_jobs", m.limit),
		logging.Int("recovered", len(recovered)),
	)
	return nil
}

// Stop stops claiming, waits up to the shutdown grace period for in-flight
// jobs, then cancels them. Cancelled jobs stay processing for the next
// Recover.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, jobCancel := m.cancel, m.jobCancel
	m.running = false
	m.cancel = nil
	m.jobCancel = nil
	m.mu.Unlock()

	cancel()
	m.dispatch.Wait()

	finished := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(finished)
	}()
	grace := m.cfg.Workflow.Grace()
	select {
	case <-finished:
	case <-time.After(grace):
		m.logger.Warn("shutdown grace elapsed; cancelling in-flight jobs",
			logging.Duration("grace", grace),
			logging.Int("in_flight", m.InFlight()),
		)
		jobCancel()
		<-finished
	}
	jobCancel()
	m.closeDone()
	m.logger.Info("workflow stopped")
}

// claimFaultLimit is how many consecutive queue faults the dispatcher
// absorbs before halting.
const claimFaultLimit = 3

func (m *Manager) runDispatcher(ctx, jobCtx context.Context) {
	defer m.dispatch.Done()
	faults := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.claimAndLaunch(ctx, jobCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			faults++
			if faults >= claimFaultLimit {
				m.halt(err)
				return
			}
			m.setLastError(err)
			pause := m.cfg.Workflow.ErrorRetry()
			m.logger.Warn("queue access failed; pausing before next claim",
				logging.Error(err),
				logging.Int("attempt", faults),
				logging.Duration("pause", pause),
				logging.String(logging.FieldEventType, "claim_retry"),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
			continue
		}
		faults = 0

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Manager) claimAndLaunch(ctx, jobCtx context.Context) error {
	if _, err := m.heartbeat.ReclaimStaleJobs(ctx); err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	free := m.freeSlots()
	if free <= 0 {
		return nil
	}
	jobs, err := m.store.ClaimNext(ctx, free)
	if err != nil {
		return fmt.Errorf("claim jobs: %w", err)
	}
	for _, job := range jobs {
		m.launch(jobCtx, job)
	}
	return nil
}

func (m *Manager) freeSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limit - m.inFlight
}

// InFlight reports how many jobs this manager is running.
func (m *Manager) InFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlight
}

func (m *Manager) launch(ctx context.Context, job *queue.Job) {
	m.mu.Lock()
	m.inFlight++
	inFlight := m.inFlight
	m.mu.Unlock()
	m.metrics.SetInFlight(inFlight)

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer func() {
			m.mu.Lock()
			m.inFlight--
			inFlight := m.inFlight
			m.mu.Unlock()
			m.metrics.SetInFlight(inFlight)
			m.Wake()
		}()
		if err := m.ProcessJob(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			m.halt(err)
		}
	}()
}

// halt records a store fault, stops claiming and closes Done. In-flight jobs
// keep running until Stop.
func (m *Manager) halt(err error) {
	m.mu.Lock()
	if m.fatalErr == nil {
		m.fatalErr = err
	}
	m.lastErr = err
	cancel := m.cancel
	m.mu.Unlock()

	logging.ErrorWithContext(m.logger, "store fault; workflow halted", "workflow_halted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the job database and disk"),
	)
	if cancel != nil {
		cancel()
	}
	m.closeDone()
}

func (m *Manager) closeDone() {
	m.mu.RLock()
	once, done := m.doneOnce, m.done
	m.mu.RUnlock()
	once.Do(func() { close(done) })
}
