// Package retry provides a bounded retry helper with exponential, jittered
// backoff. Callers distinguish exhaustion (Error) from other failures to pick
// a cool-down policy.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts       = 3
	DefaultInitialBackoff    = 1 * time.Second
	defaultBackoffMultiplier = 2
)

// Error wraps the final cause after all attempts failed.
type Error struct {
	Attempts int
	cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to execute action after %d attempts: %v", e.Attempts, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Do runs fn up to maxAttempts times. Between attempts it sleeps a randomized
// backoff in [b/2, 3b/2] where b doubles each round. Returns nil on the first
// success, ctx.Err() if cancelled mid-backoff, or *Error after exhaustion.
func Do(ctx context.Context, maxAttempts int, initialBackoff time.Duration, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialBackoff <= 0 {
		initialBackoff = DefaultInitialBackoff
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("Retry attempt failed")

		if attempt == maxAttempts {
			break
		}
		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff)+1))
		if err := Sleep(ctx, jittered); err != nil {
			return err
		}
		backoff *= defaultBackoffMultiplier
	}
	return &Error{Attempts: maxAttempts, cause: lastErr}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
