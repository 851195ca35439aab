package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(4), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	persistent := errors.New("persistent error")
	attempts := 0
	var retries []int
	cfg := fastConfig(4)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		retries = append(retries, attempt)
	}

	err := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return persistent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, persistent)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDo_NonRetryable(t *testing.T) {
	base := errors.New("bad request")
	attempts := 0
	err := Do(context.Background(), fastConfig(4), func(context.Context) error {
		attempts++
		return NonRetryable(base)
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	attempts := 0
	err := Do(ctx, cfg, func(context.Context) error {
		attempts++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, cfg.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 5*time.Second, cfg.Backoff(10000))
}

func TestDo_InvalidConfig(t *testing.T) {
	called := false
	fn := func(context.Context) error {
		called = true
		return nil
	}

	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, fn))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, fn))
	assert.False(t, called)

	require.NoError(t, Do(context.Background(), Config{}, fn))
	assert.True(t, called)
}
