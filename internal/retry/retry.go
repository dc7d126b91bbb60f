// Package retry runs operations under a capped exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds retries of transient failures.
type Policy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default is three retries starting at one second, capped at ten.
var Default = Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

// Backoff returns the delay before retry number attempt (0-based):
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	d := p.BaseDelay * time.Duration(factor)
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

// Normalized fills unusable fields from Default.
func (p Policy) Normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Attempts is the total number of calls the policy allows.
func (p Policy) Attempts() int { return p.MaxRetries + 1 }

// Retrier applies a Policy.
type Retrier struct {
	Policy Policy
	// Sleep waits between attempts; nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable decides whether an error is worth another attempt; nil
	// retries everything except context errors.
	Retryable func(error) bool
	// OnRetry, when set, is told about each failed attempt that will be
	// retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ErrExhausted marks an error returned after every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Do calls fn until it succeeds, fails with a non-retryable error or the
// policy runs out. After running out, the returned error wraps both
// ErrExhausted and fn's last error.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p := r.Policy
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return &exhaustedError{attempts: attempt + 1, err: err}
		}
		delay := p.Backoff(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r Retrier) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

func (r Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.attempts, e.err)
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrExhausted, e.err} }
