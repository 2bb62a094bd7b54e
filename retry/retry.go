// Package retry repeats operations that fail with transient errors
package retry

import (
	"context"
	"errors"

	"github.com/ridge/pistonen/tlog"
	"go.uber.org/zap"
	"time"
)

// DelayFn produces the delays before successive attempts. Each call returns
// the delay before the next attempt and whether that attempt should be made
// at all. The first call must return true.
type DelayFn func() (delay time.Duration, ok bool)

// Config defines retry intervals
type Config interface {
	// Delays returns an independent sequence of delays
	Delays() DelayFn
}

// ErrRetriable means the operation that caused the error should be retried
type ErrRetriable struct {
	err error
}

func (r ErrRetriable) Error() string {
	return r.err.Error()
}

// Unwrap returns the next error in the error chain
func (r ErrRetriable) Unwrap() error {
	return r.err
}

// Retriable wraps an error to tell Do that it should keep trying. Returns nil
// if err is nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return ErrRetriable{err: err}
}

// Do calls f until it succeeds, fails with an error not wrapped by
// Retriable, the delays of c run out or ctx is closed. The last error is
// returned unwrapped.
func Do(ctx context.Context, c Config, f func() error) error {
	startedAt := time.Now()
	delays := c.Delays()
	var last ErrRetriable
	for i := 0; ; i++ {
		delay, ok := delays()
		if !ok {
			tlog.Get(ctx).Debug("Giving up", zap.Int("attempts", i), zap.Error(last.err), zap.Duration("duration", time.Since(startedAt)))
			return last.err
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}

		err := f()
		if !errors.As(err, &last) {
			return err
		}
		if ctx.Err() != nil {
			return last.err
		}
		tlog.Get(ctx).Debug("Will retry", zap.Int("attempt", i+1), zap.Error(last.err))
	}
}

// Do1 is a single return value version of Do
func Do1[T any](ctx context.Context, c Config, f func() (T, error)) (T, error) {
	var t T
	err := Do(ctx, c, func() error {
		var err error
		t, err = f()
		return err
	})
	return t, err
}

// Sleep waits for duration or until ctx is closed, whichever comes first
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
