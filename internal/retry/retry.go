// Package retry wraps cenkalti/backoff with an attempt-bounded policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Policy describes how an operation is retried
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable reports whether err may succeed on another attempt.
	// Nil treats every error as retryable.
	Retryable func(error) bool
	logger    zerolog.Logger
}

// DefaultPolicy waits 1s, 2s, 4s... between attempts, three attempts in total
func DefaultPolicy() Policy {
	return NewPolicy(3, time.Second, 30*time.Second)
}

// NewPolicy creates a doubling backoff policy
func NewPolicy(maxAttempts int, initial, max time.Duration) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      2,
		logger:          log.With().Str("component", "retry").Logger(),
	}
}

// BackOff builds a fresh backoff schedule for one call
func (p Policy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	wrapped := fn
	if p.Retryable != nil {
		wrapped = func() error {
			err := fn()
			if err != nil && !p.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
	}
	return retry(ctx, op, p.MaxAttempts, p.BackOff(), wrapped, p.logger)
}

// Retry runs fn up to maxAttempts times waiting on b between attempts.
// The final failure is returned as an *Error.
func Retry(ctx context.Context, op string, maxAttempts int, b backoff.BackOff, fn func() error) error {
	return retry(ctx, op, maxAttempts, b, fn, log.With().Str("component", "retry").Logger())
}

func retry(ctx context.Context, op string, maxAttempts int, b backoff.BackOff, fn func() error, logger zerolog.Logger) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	operation := func() error {
		attempts++
		return fn()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("Operation failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	return &Error{Operation: op, Attempts: attempts, Err: err}
}

// Error is returned once every attempt has failed
type Error struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsExhausted reports whether err came out of a retry loop
func IsExhausted(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
