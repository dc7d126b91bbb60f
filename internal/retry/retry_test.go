package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expensifyos/internal/retry"
)

type sleeps []time.Duration

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	*s = append(*s, d)
	return ctx.Err()
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	var got []time.Duration
	for i := range 6 {
		got = append(got, retry.Default.Backoff(i))
	}
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)
	require.Equal(t, 10*time.Second, retry.Default.Backoff(200))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var s sleeps
	calls := 0
	r := retry.Retrier{Policy: retry.Default, Sleep: s.sleep}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, sleeps{time.Second, 2 * time.Second}, s)
}

func TestDoExhausted(t *testing.T) {
	var s sleeps
	boom := errors.New("down")
	calls := 0
	var retried []int
	r := retry.Retrier{
		Policy:  retry.Policy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Second},
		Sleep:   s.sleep,
		OnRetry: func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
	}
	err := r.Do(context.Background(), func(context.Context) error { calls++; return boom })
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "gave up after 3 attempts")
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	r := retry.Retrier{
		Policy:    retry.Default,
		Sleep:     (&sleeps{}).sleep,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := r.Do(context.Background(), func(context.Context) error { calls++; return permanent })
	require.ErrorIs(t, err, permanent)
	require.NotErrorIs(t, err, retry.ErrExhausted)
	require.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := retry.Retrier{Policy: retry.Default, Sleep: (&sleeps{}).sleep}
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestNormalized(t *testing.T) {
	p := retry.Policy{MaxRetries: -1, MaxDelay: time.Millisecond}.Normalized()
	require.Equal(t, 0, p.MaxRetries)
	require.Equal(t, time.Second, p.BaseDelay)
	require.Equal(t, time.Second, p.MaxDelay)
	require.Equal(t, 1, p.Attempts())
}
