package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Class tells Do whether an error is worth another attempt
type Class int

const (
	Retryable Class = iota
	Fatal
)

// Policy is exponential backoff with an optional "equal jitter":
// the capped delay d is replaced by a uniform value in [d/2, d).
type Policy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap on any single delay
	Jitter    bool

	// Classify decides whether an error is retryable.
	// If nil, every non-nil error is retried.
	Classify func(error) Class

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default returns the policy used for RPC calls: 5 attempts, 300ms base, 5s cap, jittered
func Default() Policy {
	return Policy{
		Attempts:  5,
		BaseDelay: 300 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    true,
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || wait < p.MaxDelay); i++ {
		wait *= 2
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	if p.Jitter && wait > 0 {
		half := wait / 2
		wait = half + time.Duration(rand.Int63n(int64(wait-half)+1))
	}
	return wait
}

// Do runs fn until it succeeds, returns a Fatal error, the attempts run out,
// or ctx is cancelled. The last error is returned unchanged so callers can
// inspect it with errors.Is.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions that produce a value
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Retryable }
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if classify(err) == Fatal || attempt == p.Attempts {
			break
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retry: exhausted with no error")
	}
	return zero, lastErr
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
