package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"stockpile/internal/logging"
	"stockpile/internal/services"
)

// Outcome labels what happened to one attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "retry"
	OutcomeFatal     Outcome = "fatal"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Observer receives one call per finished attempt.
type Observer interface {
	ObserveAttempt(policy string, outcome Outcome)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Policy, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Engine executes operations under a Policy.
type Engine struct {
	logger   *slog.Logger
	observer Observer
	sleep    func(context.Context, time.Duration) error
	rand     func() float64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver reports attempts to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithSleep overrides how backoff waits are performed (useful for tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(e *Engine) {
		if fn != nil {
			e.rand = fn
		}
	}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: logging.NewNop(),
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op until it succeeds, fails fatally, or exhausts policy.
func (e *Engine) Do(ctx context.Context, policy Policy, op func(context.Context) error) error {
	if e == nil {
		e = New()
	}
	p := policy.normalized()
	logger := logging.WithContext(ctx, e.logger).With(logging.String("policy", p.Name))

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			e.observe(p.Name, OutcomeCanceled)
			return canceled(p.Name, attempt-1, err, lastErr)
		}

		err := e.attempt(ctx, p, op)
		if err == nil {
			e.observe(p.Name, OutcomeSuccess)
			if attempt > 1 {
				logger.Debug("operation recovered", logging.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			e.observe(p.Name, OutcomeCanceled)
			return canceled(p.Name, attempt, ctxErr, err)
		}
		if p.Classify(err) == Fatal {
			e.observe(p.Name, OutcomeFatal)
			return err
		}
		if attempt >= p.MaxAttempts {
			e.observe(p.Name, OutcomeExhausted)
			logger.Warn("retries exhausted",
				logging.Int("attempts", attempt),
				logging.Error(err),
			)
			return &ExhaustedError{Policy: p.Name, Attempts: attempt, Err: err}
		}

		e.observe(p.Name, OutcomeRetry)
		delay := p.Delay(attempt, e.rand())
		logger.Info("attempt failed; retrying",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", p.MaxAttempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			e.observe(p.Name, OutcomeCanceled)
			return canceled(p.Name, attempt, sleepErr, err)
		}
	}
}

// Execute is Do for operations that produce a value.
func Execute[T any](ctx context.Context, e *Engine, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, policy, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

func (e *Engine) attempt(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "", p.Name,
			fmt.Sprintf("attempt exceeded %s", p.AttemptTimeout), err)
	}
	return err
}

func (e *Engine) observe(policy string, outcome Outcome) {
	if e.observer != nil {
		e.observer.ObserveAttempt(policy, outcome)
	}
}

func canceled(policy string, attempts int, ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%s: canceled after %d attempts: %w (last error: %w)", policy, attempts, ctxErr, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
