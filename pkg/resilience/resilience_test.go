package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var seen []int
	err := Retry(context.Background(), "flaky", fastRetry(3), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("source down")
	retries := 0
	cfg := fastRetry(3)
	cfg.OnRetry = func(int, error, time.Duration) { retries++ }

	err := Retry(context.Background(), "fetch", cfg, func(int) error { return boom })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, retries)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "cancelled", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestComputeDelayCapped(t *testing.T) {
	cfg := withRetryDefaults(RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second})
	cfg.JitterFraction = 0
	assert.Equal(t, time.Second, computeDelay(1, cfg))
	assert.Equal(t, 2*time.Second, computeDelay(2, cfg))
	assert.Equal(t, 3*time.Second, computeDelay(5, cfg))
}

func TestWithTimeout(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		err := WithTimeout(context.Background(), time.Second, "quick", func(context.Context) error { return nil })
		assert.NoError(t, err)
	})
	t.Run("expires", func(t *testing.T) {
		err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, apperrors.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("zero timeout runs inline", func(t *testing.T) {
		want := errors.New("inline")
		err := WithTimeout(context.Background(), 0, "inline", func(context.Context) error { return want })
		assert.Equal(t, want, err)
	})
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("source", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, s State) { transitions = append(transitions, s) },
	})
	fail := func() error { return errors.New("down") }

	assert.Error(t, cb.Execute(fail))
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("source", CircuitBreakerConfig{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		now:              func() time.Time { return now },
	})
	boom := errors.New("down")

	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	// a second call while the probe runs is rejected
	probe := cb.Execute(func() error {
		assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
		return boom
	})
	assert.Equal(t, boom, probe)
	assert.Equal(t, StateOpen, cb.GetState())

	c := cb.Counts()
	assert.Equal(t, int64(2), c.TotalFailures)
	assert.Equal(t, int64(2), c.Rejected)
	assert.Equal(t, now, c.OpenedAt)
}

func TestCircuitBreakerIsFailure(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker("cache", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})
	assert.Equal(t, notFound, cb.Execute(func() error { return notFound }))
	assert.Equal(t, StateClosed, cb.GetState())

	cb.Reset()
	assert.Equal(t, 0, cb.Counts().ConsecutiveFailures)
}
