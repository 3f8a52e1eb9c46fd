// Package retry runs an operation under a bounded, fixed-delay retry policy
// and reports how it ended instead of returning a library-specific error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Status int

const (
	// Succeeded: one attempt returned nil.
	Succeeded Status = iota
	// Exhausted: every attempt failed.
	Exhausted
	// Aborted: the context ended before the attempt budget was spent.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of Policy.Do.
type Outcome struct {
	Status   Status
	Attempts int
	// LastErr is the error of the final attempt (or the context error when Aborted).
	LastErr error
}

// Policy is a fixed number of attempts separated by a constant delay, no jitter.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy is 3 attempts, 2 seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// Do runs op until it succeeds, the attempt budget is spent or ctx ends.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) Outcome {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Backoff)
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	var last error
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		last = op(ctx, attempts)
		return last
	}, b, func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
	})

	switch {
	case err == nil:
		return Outcome{Status: Succeeded, Attempts: attempts}
	case ctx.Err() != nil:
		if last == nil || attempts == 0 {
			last = ctx.Err()
		}
		return Outcome{Status: Aborted, Attempts: attempts, LastErr: last}
	default:
		if last == nil {
			last = err
		}
		return Outcome{Status: Exhausted, Attempts: attempts, LastErr: last}
	}
}
