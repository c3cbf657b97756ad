// Package retry runs calls against remote backends with bounded attempts
// and exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default is three attempts starting at 500ms.
var Default = Policy{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

// Once allows a single extra attempt.
func Once(wait time.Duration) Policy {
	return Policy{MaxAttempts: 2, InitialWait: wait, MaxWait: wait}
}

// Do calls f until it succeeds, the policy is exhausted, or ctx is done.
// The last error from f is returned.
func Do(ctx context.Context, p Policy, f func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, f func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.InitialWait

	var (
		val T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err = f(ctx)
		if err == nil {
			return val, nil
		}
		if attempt == attempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(err) {
			break
		}

		sleep := wait
		if p.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if p.MaxWait > 0 && sleep > p.MaxWait {
			sleep = p.MaxWait
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, sleep, err)
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		wait *= 2
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return val, err
}
