package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fast(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fast(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(2), func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := fast(5)
	p.Retryable = func(err error) bool { return false }

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, InitialWait: time.Hour}
	p.OnRetry = func(int, time.Duration, error) { cancel() }

	err := Do(ctx, p, func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 1, calls)
}

func TestOnceAllowsOneRetry(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Once(time.Millisecond), func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 2, calls)
}
