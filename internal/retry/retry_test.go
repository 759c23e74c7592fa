package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	MaxRetries:        3,
	MaxTimeoutRetries: 2,
	InitialBackoff:    time.Millisecond,
	TimeoutBackoff:    time.Millisecond,
	MaxBackoff:        4 * time.Millisecond,
	RequestTimeout:    20 * time.Millisecond,
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testConfig, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsGenericTrack(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testConfig, "test", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, int(testConfig.MaxRetries)+1, calls)
}

func TestDoTimeoutsUseSeparateTrack(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testConfig, "test", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, int(testConfig.MaxTimeoutRetries)+1, calls)
}

func TestDoPermanentIsNotRetried(t *testing.T) {
	calls := 0
	cause := errors.New("bad request")
	err := Do(context.Background(), testConfig, "test", func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	require.Equal(t, cause, err)
	require.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, testConfig, "test", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestValue(t *testing.T) {
	got, err := Value(context.Background(), testConfig, "test", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestBackoffIsCapped(t *testing.T) {
	require.Equal(t, time.Millisecond, backoff(time.Millisecond, 0, 4*time.Millisecond))
	require.Equal(t, 4*time.Millisecond, backoff(time.Millisecond, 2, 4*time.Millisecond))
	require.Equal(t, 4*time.Millisecond, backoff(time.Millisecond, 10, 4*time.Millisecond))
}

func TestBackoffWithoutCapDoesNotOverflow(t *testing.T) {
	for _, n := range []uint{40, 63, 100} {
		wait := backoff(100*time.Millisecond, n, 0)
		require.Positive(t, wait)
		require.Equal(t, maxBackoff, wait)
	}
	require.Equal(t, 200*time.Millisecond, backoff(100*time.Millisecond, 1, 0))
}
