package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"stockpile/internal/config"
	"stockpile/internal/services"
)

// Classification decides whether a failed attempt is worth repeating.
type Classification int

const (
	Retryable Classification = iota
	Fatal
)

func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classifier maps an error to a Classification.
type Classifier func(error) Classification

// Policy describes the retry behaviour for one class of operation.
type Policy struct {
	Name           string
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	Jitter         float64
	AttemptTimeout time.Duration
	Classify       Classifier
}

// Presets groups the configured policies.
type Presets struct {
	API      Policy
	File     Policy
	Download Policy
	Notify   Policy
}

// PolicyFromConfig converts a TOML retry section into a Policy.
func PolicyFromConfig(name string, cfg config.RetryPolicy) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		Multiplier:  cfg.Multiplier,
		MaxDelay:    cfg.MaxDelay(),
		Jitter:      cfg.Jitter,
	}
}

// PresetsFromConfig builds the named presets from configuration.
func PresetsFromConfig(cfg config.Retry) Presets {
	return Presets{
		API:      PolicyFromConfig("api", cfg.API),
		File:     PolicyFromConfig("file", cfg.File),
		Download: PolicyFromConfig("download", cfg.Download),
		Notify:   PolicyFromConfig("notify", cfg.Notify),
	}
}

// WithAttemptTimeout returns a copy of p bounding each attempt by d.
func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

// WithClassifier returns a copy of p using c.
func (p Policy) WithClassifier(c Classifier) Policy {
	p.Classify = c
	return p
}

func (p Policy) normalized() Policy {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
	return p
}

// Delay returns the wait before the next attempt after failures failed
// attempts. u is a uniform sample in [0, 1) scaling the jitter.
func (p Policy) Delay(failures int, u float64) time.Duration {
	p = p.normalized()
	if failures < 1 {
		failures = 1
	}
	if p.BaseDelay == 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failures-1))
	d += u * p.Jitter * d
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// DefaultClassifier treats the fatal service markers and cancellation as
// Fatal. Timeouts and everything else are Retryable.
func DefaultClassifier(err error) Classification {
	switch {
	case err == nil:
		return Retryable
	case errors.Is(err, services.ErrTimeout):
		return Retryable
	case errors.Is(err, context.Canceled):
		return Fatal
	case services.IsFatal(err):
		return Fatal
	default:
		return Retryable
	}
}
