package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(attempts uint64) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
	}
}

func TestDo_SucceedsOnSecondAttempt(t *testing.T) {
	var calls int

	err := Do(context.Background(), testConfig(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	var calls int
	permanent := errors.New("permanent")

	err := Do(context.Background(), testConfig(5), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptBudgetIsRespected(t *testing.T) {
	var calls int
	transient := errors.New("still down")

	err := Do(context.Background(), testConfig(3), func(context.Context) error {
		calls++
		return Retryable(transient)
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var calls int

	err := Do(context.Background(), testConfig(0), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	err := Do(ctx, Config{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond}, func(context.Context) error {
		calls++
		cancel()
		return Retryable(errors.New("transient"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
