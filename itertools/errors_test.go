package itertools

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDivision = errors.New("division by zero")

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryErrorHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("exponential backoff until total delay", func(t *testing.T) {
		var delays []time.Duration
		h := &RetryErrorHandler{
			RetryDelay:         time.Second,
			TotalDelay:         30 * time.Second,
			ExponentialBackoff: true,
			Sleep:              recordSleeps(&delays),
		}

		calls := 0
		err := h.Handle(ctx, func() error {
			calls++
			return errDivision
		})
		require.ErrorIs(t, err, errDivision)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
		assert.Equal(t, 5, calls)
	})

	t.Run("constant delay", func(t *testing.T) {
		var delays []time.Duration
		h := &RetryErrorHandler{RetryDelay: 5 * time.Second, TotalDelay: 12 * time.Second, Sleep: recordSleeps(&delays)}

		err := h.Handle(ctx, func() error { return errDivision })
		require.ErrorIs(t, err, errDivision)
		assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, delays)
	})

	t.Run("success after retries", func(t *testing.T) {
		var delays []time.Duration
		h := &RetryErrorHandler{RetryDelay: time.Second, TotalDelay: time.Minute, Sleep: recordSleeps(&delays)}

		calls := 0
		err := h.Handle(ctx, func() error {
			calls++
			if calls < 3 {
				return errDivision
			}
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, delays, 2)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		var delays []time.Duration
		h := &RetryErrorHandler{
			Retryable:  func(err error) bool { return errors.Is(err, errDivision) },
			RetryDelay: time.Second,
			TotalDelay: time.Minute,
			Sleep:      recordSleeps(&delays),
		}

		other := errors.New("other")
		err := h.Handle(ctx, func() error { return other })
		assert.ErrorIs(t, err, other)
		assert.Empty(t, delays)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		h := &RetryErrorHandler{RetryDelay: time.Hour, TotalDelay: 2 * time.Hour}
		err := h.Handle(cctx, func() error { return errDivision })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFailFast(t *testing.T) {
	calls := 0
	err := FailFast{}.Handle(context.Background(), func() error {
		calls++
		return errDivision
	})
	assert.ErrorIs(t, err, errDivision)
	assert.Equal(t, 1, calls)
}
