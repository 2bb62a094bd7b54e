package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ridge/pistonen/test"
	"github.com/stretchr/testify/require"
	"time"
)

var fast = ExpConfig{Min: time.Millisecond, Max: 4 * time.Millisecond, Scale: 2}

func TestDo(t *testing.T) {
	ctx := test.Context(t)

	count := 0
	err := Do(ctx, fast, func() error {
		count++
		if count == 10 {
			return errors.New("ten")
		}
		return Retriable(fmt.Errorf("%d", count))
	})
	require.EqualError(t, err, "ten")
	require.Equal(t, 10, count)

	count = 0
	ret, err := Do1(ctx, fast, func() (int, error) {
		count++
		if count < 3 {
			return 0, Retriable(errors.New("not yet"))
		}
		return count, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, ret)
}

func TestDoGivesUp(t *testing.T) {
	config := fast
	config.MaxAttempts = 4

	count := 0
	err := Do(test.Context(t), config, func() error {
		count++
		return Retriable(fmt.Errorf("attempt %d", count))
	})
	require.EqualError(t, err, "attempt 4")
	require.Equal(t, 4, count)

	var retriable ErrRetriable
	require.False(t, errors.As(err, &retriable))
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Context(t))
	count := 0
	err := Do(ctx, ExpConfig{Min: time.Hour, Max: time.Hour, Scale: 1}, func() error {
		count++
		cancel()
		return Retriable(errors.New("busy"))
	})
	require.EqualError(t, err, "busy")
	require.Equal(t, 1, count)

	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
