// Package retry provides the jittered exponential backoff shared by the
// fetcher and the oracle clients.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Policy decides whether and when to retry a failed attempt.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialPolicy implements Policy with jittered backoff.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialPolicy builds a policy. Non-positive values fall back to 3
// attempts, a 1s base delay and a 10s ceiling.
func NewExponentialPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &ExponentialPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// MaxAttempts returns the attempt budget, including the first try.
func (p *ExponentialPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Context errors and errors marked Permanent are never retried.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Backoff returns the wait duration before the attempt following attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, the policy gives up or ctx ends. It returns
// the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.ShouldRetry(err, attempt) {
			return attempt, err
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// ConstantPolicy retries with a fixed delay between attempts.
type ConstantPolicy struct {
	ExponentialPolicy
	delay time.Duration
}

// NewConstantPolicy builds a fixed-delay policy.
func NewConstantPolicy(maxAttempts int, delay time.Duration) *ConstantPolicy {
	p := NewExponentialPolicy(maxAttempts, delay, delay)
	return &ConstantPolicy{ExponentialPolicy: *p, delay: delay}
}

// Backoff returns the fixed delay.
func (p *ConstantPolicy) Backoff(int) time.Duration { return p.delay }
