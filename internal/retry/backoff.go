// Package retry provides exponential backoff and circuit breaker
// patterns for the gateway's outbound operations: SSH gateway connects,
// backend dials and the accept loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  Do returns the inner error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff describes an exponential retry schedule.  Zero fields take
// the defaults noted below.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps a single wait (default 60s).
	MaxDelay time.Duration
	// Multiplier grows the delay each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first.
	// Zero retries until the context is cancelled.
	MaxAttempts int
	// Jitter randomises each wait by ±25%.
	Jitter bool
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff returns the schedule used for SSH gateway connects.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// AcceptBackoff returns the schedule for transient accept failures:
// short, unbounded, capped at one second.
func AcceptBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

// exponential converts b into a backoff.ExponentialBackOff.
func (b *Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.InitialDelay
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Second
	}
	eb.MaxInterval = b.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 60 * time.Second
	}
	eb.Multiplier = b.Multiplier
	if eb.Multiplier <= 0 {
		eb.Multiplier = 2.0
	}
	eb.RandomizationFactor = 0
	if b.Jitter {
		eb.RandomizationFactor = 0.25
	}
	return eb
}

// Do runs fn until it succeeds, returns a permanent error, or the
// attempt budget or context is exhausted.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	var (
		attempt   int
		lastErr   error
		permanent bool
	)

	op := func() (struct{}, error) {
		attempt++
		err := fn(attempt)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		var pe *PermanentError
		if errors.As(err, &pe) {
			permanent = true
			return struct{}{}, backoff.Permanent(pe.Err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b.exponential()),
		backoff.WithMaxElapsedTime(0),
	}
	if b.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(b.MaxAttempts)))
	}
	if b.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			b.OnRetry(attempt, err, wait)
		}))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	switch {
	case err == nil:
		return nil
	case permanent:
		var pe *PermanentError
		errors.As(lastErr, &pe)
		return pe.Err
	case ctx.Err() != nil:
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case b.MaxAttempts > 0 && attempt >= b.MaxAttempts:
		return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, lastErr)
	}
	return err
}
