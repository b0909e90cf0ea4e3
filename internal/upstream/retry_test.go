package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(rec *recordedSleep) RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.Sleep = rec.sleep
	return policy
}

func TestRetryDelaysGrowAndCap(t *testing.T) {
	policy := DefaultRetryPolicy()
	require.Equal(t, 2*time.Second, policy.Delay(1))
	require.Equal(t, 4*time.Second, policy.Delay(2))
	require.Equal(t, 8*time.Second, policy.Delay(3))
	require.Equal(t, 16*time.Second, policy.Delay(4))
	require.Equal(t, 30*time.Second, policy.Delay(5))
	require.Equal(t, 30*time.Second, policy.Delay(60))
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := testPolicy(rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 3 {
			return &StatusError{Status: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Len(t, rec.delays, 3)
	for i := 1; i < len(rec.delays); i++ {
		require.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
	}
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	var last error
	err := testPolicy(rec).Do(context.Background(), func(context.Context) error {
		calls++
		last = &StatusError{Status: http.StatusBadGateway, URL: "attempt"}
		return last
	})
	require.Equal(t, 4, calls)
	require.Same(t, last, err)
	require.Len(t, rec.delays, 3)
}

func TestRetrySkipsPermanentFailures(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := testPolicy(rec).Do(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{Status: http.StatusNotFound}
	})
	require.Error(t, err)
	require.True(t, IsStatus(err, http.StatusNotFound))
	require.Equal(t, 1, calls)
	require.Empty(t, rec.delays)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return &StatusError{Status: http.StatusTooManyRequests}
	})
	require.Equal(t, 1, calls)
	require.True(t, IsStatus(err, http.StatusTooManyRequests))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&StatusError{Status: http.StatusTooManyRequests}))
	require.True(t, IsRetryable(&StatusError{Status: http.StatusInternalServerError}))
	require.False(t, IsRetryable(&StatusError{Status: http.StatusUnauthorized}))
	require.False(t, IsRetryable(&ProtocolError{Op: "csrf", Detail: "missing"}))
	require.False(t, IsRetryable(context.Canceled))
	require.True(t, IsRetryable(context.DeadlineExceeded))
	require.False(t, IsRetryable(errors.New("boom")))
}
