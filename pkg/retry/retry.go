// Package retry applies a bounded exponential backoff to transient identity
// failures.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Policy implements exponential backoff
type Policy struct {
	config Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a new retry policy
func NewPolicy(config Config) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}

	return &Policy{config: config, sleep: sleepContext}
}

// MaxAttempts returns the attempt bound
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ShouldRetry reports whether another attempt is allowed after a failure
func (p *Policy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	if attempts >= p.config.MaxAttempts {
		return false
	}
	return identity.IsRetryable(err)
}

// NextDelay calculates the delay before the next attempt
func (p *Policy) NextDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	// delay = initialDelay * (multiplier ^ (attempts - 1))
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, fails permanently, or the attempts run out.
// The returned *identity.Error carries the number of attempts made.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx)
		if !p.ShouldRetry(attempt, err) {
			return result, withAttempts(err, attempt)
		}
		if serr := p.sleep(ctx, p.NextDelay(attempt)); serr != nil {
			return result, withAttempts(err, attempt)
		}
	}
}

func withAttempts(err error, attempts int) error {
	if err == nil {
		return nil
	}
	var e *identity.Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Attempts = attempts
	return &cp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
