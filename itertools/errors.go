package itertools

import (
	"context"
	"time"

	"github.com/denismitr/pado/internal/ctxlog"
)

// ErrorHandler runs one access to a dataset and decides what to do when it fails.
type ErrorHandler interface {
	Handle(ctx context.Context, fn func() error) error
}

// FailFast returns the first error.
type FailFast struct{}

func (FailFast) Handle(_ context.Context, fn func() error) error {
	return fn()
}

// RetryErrorHandler retries failed accesses until the summed delays would
// exceed TotalDelay. With ExponentialBackoff the delay doubles after every
// retry, starting at RetryDelay.
//
//	h := &itertools.RetryErrorHandler{
//		RetryDelay:         time.Second,
//		TotalDelay:         30 * time.Second,
//		ExponentialBackoff: true,
//	}
//
// retries after 1s, 2s, 4s and 8s before returning the error.
type RetryErrorHandler struct {
	// Retryable selects the errors worth retrying, all of them when nil.
	Retryable          func(err error) bool
	RetryDelay         time.Duration
	TotalDelay         time.Duration
	ExponentialBackoff bool

	// Sleep waits between attempts, a timer honouring ctx when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

var _ ErrorHandler = (*RetryErrorHandler)(nil)

func (h *RetryErrorHandler) Handle(ctx context.Context, fn func() error) error {
	delay := h.RetryDelay
	var slept time.Duration

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || delay <= 0 {
			return err
		}
		if h.Retryable != nil && !h.Retryable(err) {
			return err
		}
		if slept+delay > h.TotalDelay {
			return err
		}

		ctxlog.FromContext(ctx).Warn("retrying dataset access", "attempt", attempt, "delay", delay, "error", err)
		if serr := h.sleep(ctx, delay); serr != nil {
			return serr
		}

		slept += delay
		if h.ExponentialBackoff {
			delay *= 2
		}
	}
}

func (h *RetryErrorHandler) sleep(ctx context.Context, d time.Duration) error {
	if h.Sleep != nil {
		return h.Sleep(ctx, d)
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
