package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakke/taskqueue/pkg/core"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0,
	}
}

func TestRetryConflicts_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryConflicts_RetriesConflicts(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), fastRetryConfig(5), func() error {
		calls++
		if calls < 3 {
			return core.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConflicts_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return core.ErrConflict
	})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestRetryConflicts_NonConflictPropagatesImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := retryConflicts(context.Background(), fastRetryConfig(5), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryConflicts_WrappedConflictIsRetried(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), fastRetryConfig(5), func() error {
		calls++
		if calls == 1 {
			return errors.Join(errors.New("commit failed"), core.ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryConflicts_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := fastRetryConfig(5)
	config.InitialBackoff = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryConflicts(ctx, config, func() error {
		return core.ErrConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
}
