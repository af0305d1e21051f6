package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"station-alerts/internal/logging"
)

// Backoff retries a task with exponentially growing delays.
type Backoff struct {
	// MaxAttempts of 0 retries until ctx is done.
	MaxAttempts int
	// MinDelay defaults to 500ms, MaxDelay to 30s.
	MinDelay time.Duration
	MaxDelay time.Duration
	NoJitter bool
	Logger   *logging.Logger
}

// Retry runs fn up to maxAttempts times, sleeping delay between attempts.
func Retry(logger *logging.Logger, maxAttempts int, delay time.Duration, fn func() error) error {
	b := Backoff{MaxAttempts: maxAttempts, MinDelay: delay, MaxDelay: delay, NoJitter: true, Logger: logger}
	return b.Do(context.Background(), func(context.Context) error { return fn() })
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do calls fn until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done.
func (b Backoff) Do(ctx context.Context, fn func(context.Context) error) error {
	logger := b.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if b.MaxAttempts > 0 {
			logger.Errorf("Attempt %d/%d failed: %v", attempt, b.MaxAttempts, err)
			if attempt >= b.MaxAttempts {
				return fmt.Errorf("failed after %d attempts: %w", b.MaxAttempts, lastErr)
			}
		} else {
			logger.Errorf("Attempt %d failed: %v", attempt, err)
		}

		select {
		case <-time.After(b.Delay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("gave up after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
		}
	}
}

// Delay is the wait after the given failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	minDelay := b.MinDelay
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	maxDelay := b.MaxDelay
	if maxDelay < minDelay {
		maxDelay = max(minDelay, 30*time.Second)
	}

	d := minDelay
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	d = min(d, maxDelay)
	if !b.NoJitter {
		// #nosec G404
		d = time.Duration(float64(d) * (0.95 + 0.1*rand.Float64()))
	}
	return d
}
