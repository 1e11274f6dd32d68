package integrations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHarness() *Harness {
	return NewHarness(HarnessConfig{
		CallTimeout:      time.Second,
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BreakerThreshold: 5,
		BreakerReset:     50 * time.Millisecond,
	})
}

func retryableErr(integration, op string) error {
	return &IntegrationError{Integration: integration, Op: op, StatusCode: 503, Retryable: true,
		Err: errors.New("upstream unavailable")}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	h := fastHarness()
	attempts := 0

	res, err := h.Do(context.Background(), "svc", "op", 0, func(ctx context.Context) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, retryableErr("svc", "op")
		}
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, true, res["ok"])
}

func TestDo_PermanentErrorReturnsImmediately(t *testing.T) {
	h := fastHarness()
	attempts := 0
	permanent := &IntegrationError{Integration: "svc", Op: "op", StatusCode: 404, Retryable: false,
		Err: errors.New("not found")}

	_, err := h.Do(context.Background(), "svc", "op", 0, func(ctx context.Context) (map[string]any, error) {
		attempts++
		return nil, permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	ie, ok := AsIntegrationError(err)
	require.True(t, ok)
	assert.Equal(t, 404, ie.StatusCode)
}

func TestDo_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	h := fastHarness()
	calls := 0
	fail := func(ctx context.Context) (map[string]any, error) {
		calls++
		return nil, retryableErr("flaky", "op")
	}

	// Two Do calls of 3 attempts each push consecutive failures past 5.
	_, err := h.Do(context.Background(), "flaky", "op", 0, fail)
	require.Error(t, err)
	_, err = h.Do(context.Background(), "flaky", "op", 0, fail)
	require.Error(t, err)

	// Circuit is now open: the next call fast-fails without invoking fn.
	before := calls
	_, err = h.Do(context.Background(), "flaky", "op", 0, fail)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, before, calls)
	assert.Equal(t, "open", h.BreakerState("flaky"))
}

func TestDo_BreakerHalfOpenRecovery(t *testing.T) {
	h := fastHarness()
	fail := func(ctx context.Context) (map[string]any, error) {
		return nil, retryableErr("recovering", "op")
	}

	for i := 0; i < 2; i++ {
		_, _ = h.Do(context.Background(), "recovering", "op", 0, fail)
	}
	require.Equal(t, "open", h.BreakerState("recovering"))

	// After the reset window one probe is admitted; success closes it.
	time.Sleep(80 * time.Millisecond)
	res, err := h.Do(context.Background(), "recovering", "op", 0,
		func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "closed", h.BreakerState("recovering"))
}

func TestDo_PermanentErrorsDoNotTripBreaker(t *testing.T) {
	h := fastHarness()
	permanent := &IntegrationError{Integration: "strict", Op: "op", StatusCode: 400, Retryable: false,
		Err: errors.New("bad request")}

	for i := 0; i < 10; i++ {
		_, err := h.Do(context.Background(), "strict", "op", 0,
			func(ctx context.Context) (map[string]any, error) { return nil, permanent })
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	assert.Equal(t, "closed", h.BreakerState("strict"))
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	h := fastHarness()
	attempts := 0
	start := time.Now()

	_, err := h.Do(context.Background(), "limited", "op", 0,
		func(ctx context.Context) (map[string]any, error) {
			attempts++
			if attempts == 1 {
				return nil, &IntegrationError{Integration: "limited", Op: "op",
					StatusCode: 429, Retryable: true, RetryAfter: 30 * time.Millisecond,
					Err: errors.New("rate limited")}
			}
			return map[string]any{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	h := NewHarness(HarnessConfig{
		CallTimeout: 10 * time.Millisecond,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	})
	attempts := 0

	_, err := h.Do(context.Background(), "slow", "op", 0,
		func(ctx context.Context) (map[string]any, error) {
			attempts++
			<-ctx.Done()
			return nil, &IntegrationError{Integration: "slow", Op: "op", Retryable: true, Err: ctx.Err()}
		})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_ParentCancellationStopsRetries(t *testing.T) {
	h := NewHarness(HarnessConfig{
		CallTimeout: time.Second,
		MaxAttempts: 5,
		BackoffBase: time.Hour, // would hang if cancellation were ignored
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.Do(ctx, "svc", "op", 0,
			func(ctx context.Context) (map[string]any, error) {
				return nil, retryableErr("svc", "op")
			})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not observe cancellation during backoff")
	}
}
