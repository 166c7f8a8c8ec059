package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var notified []int
	got, attempts, err := Retry(context.Background(), fastPolicy(3), func(attempt int) (string, error) {
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(context.Background(), fastPolicy(2), func(attempt int) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, "boom", err.Error(), "last error is returned as-is")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
}

func TestRetrySingleAttempt(t *testing.T) {
	calls := 0
	_, _, err := Retry(context.Background(), fastPolicy(1), func(int) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad credentials")
	calls := 0
	_, attempts, err := Retry(context.Background(), fastPolicy(5), func(int) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	}, nil)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}
	transient := errors.New("transient")
	calls := 0

	start := time.Now()
	_, attempts, err := Retry(ctx, policy, func(int) (int, error) {
		calls++
		return 0, transient
	}, func(int, error, time.Duration) {
		cancel()
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, calls, "no retry is scheduled after stop")
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, transient)
	assert.ErrorIs(t, err, context.Canceled)
}
