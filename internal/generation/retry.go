package generation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how quickly an operation is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns three attempts with exponential backoff from 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryNotify is called after a failed attempt that will be retried.
type RetryNotify func(attempt int, err error, wait time.Duration)

// Retry runs op until it succeeds, returns a Permanent error, exhausts
// p.MaxAttempts or ctx is done. op receives the 1-based attempt number.
//
// The returned error is always the last error produced by op, unwrapped from
// Permanent; a retry abandoned because ctx is done additionally wraps ctx.Err().
// The int result is the number of attempts actually made.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(attempt int) (T, error), notify RetryNotify) (T, int, error) {
	attempt := 0
	var lastErr error

	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := op(attempt)
		if err != nil {
			lastErr = err
		}
		return v, err
	}, p.newBackOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	if err == nil {
		return result, attempt, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(lastErr, &permanent) {
		lastErr = permanent.Err
	}
	if lastErr == nil {
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		return result, attempt, errors.Join(lastErr, ctxErr)
	}
	return result, attempt, lastErr
}
