package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Expensify's published integration budget.
var (
	DefaultShort = Window{Limit: 5, Duration: 10 * time.Second}
	DefaultLong  = Window{Limit: 20, Duration: 60 * time.Second}
)

// WaitObserver is told when each acquired call was recorded and how long the
// caller waited for it. It runs before the next caller is admitted.
type WaitObserver func(ctx context.Context, recordedAt time.Time, waited time.Duration)

// Limiter enforces all of its windows at once.
type Limiter struct {
	clock   Clock
	observe WaitObserver

	// turn serializes acquisitions so two callers can never both see the same
	// free slot. It is a channel rather than a mutex so waiting is cancellable.
	turn chan struct{}

	mu      sync.Mutex
	windows []*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(l *Limiter) { l.clock = c } }

// WithWaitObserver registers a callback invoked after every Acquire.
func WithWaitObserver(fn WaitObserver) Option { return func(l *Limiter) { l.observe = fn } }

// New returns a limiter enforcing every window in ws.
func New(ws []Window, opts ...Option) (*Limiter, error) {
	if len(ws) == 0 {
		return nil, fmt.Errorf("ratelimit: at least one window is required")
	}
	l := &Limiter{clock: SystemClock{}, turn: make(chan struct{}, 1)}
	for _, w := range ws {
		if w.Limit <= 0 || w.Duration <= 0 {
			return nil, fmt.Errorf("ratelimit: invalid window %s", w)
		}
		l.windows = append(l.windows, &window{Window: w, stamps: make([]time.Time, 0, w.Limit)})
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewDefault returns a limiter with the Expensify budget.
func NewDefault(opts ...Option) *Limiter {
	l, _ := New([]Window{DefaultShort, DefaultLong}, opts...)
	return l
}

// Acquire blocks until a call may proceed under every window, then records it.
// The only error is ctx's, when the caller gives up waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	start := l.clock.Now()
	for {
		now := l.clock.Now()
		d := l.tryRecord(now)
		if d <= 0 {
			if l.observe != nil {
				l.observe(ctx, now, now.Sub(start))
			}
			return nil
		}
		if err := l.clock.Sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Allow records a call and returns true if one fits right now, without
// waiting.
func (l *Limiter) Allow() bool {
	select {
	case l.turn <- struct{}{}:
	default:
		return false
	}
	defer func() { <-l.turn }()
	return l.tryRecord(l.clock.Now()) <= 0
}

// tryRecord records a call at now if every window has headroom and returns
// zero; otherwise it records nothing and returns the longest wait.
func (l *Limiter) tryRecord(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	var wait time.Duration
	for _, w := range l.windows {
		w.evict(now)
		if d := w.wait(now); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait
	}
	for _, w := range l.windows {
		w.record(now)
	}
	return 0
}

// InFlight reports how many recorded calls each window currently holds.
func (l *Limiter) InFlight() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	out := make([]int, len(l.windows))
	for i, w := range l.windows {
		w.evict(now)
		out[i] = len(w.stamps)
	}
	return out
}
