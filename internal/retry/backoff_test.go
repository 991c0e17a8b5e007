package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"jerosync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) *Backoff {
	return NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	})
}

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	assert.Equal(t, 100*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.Equal(t, 5, config.MaxAttempts)
	assert.True(t, config.Jitter)
}

func TestFromRetryConfig(t *testing.T) {
	tests := []struct {
		name string
		in   models.RetryConfig
		want BackoffConfig
	}{
		{
			name: "zero values use defaults",
			in:   models.RetryConfig{},
			want: DefaultBackoffConfig(),
		},
		{
			name: "explicit values",
			in:   models.RetryConfig{InitialBackoffMs: 250, MaxBackoffMs: 4000, MaxAttempts: 7},
			want: BackoffConfig{InitialDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second, Multiplier: 2.0, MaxAttempts: 7, Jitter: true},
		},
		{
			name: "max below initial is raised",
			in:   models.RetryConfig{InitialBackoffMs: 500, MaxBackoffMs: 100},
			want: BackoffConfig{InitialDelay: 500 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 5, Jitter: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromRetryConfig(tt.in))
		})
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := fastBackoff(3).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	var hooked []int
	b := fastBackoff(5).OnRetry(func(attempt int, delay time.Duration, err error) {
		hooked = append(hooked, attempt)
		assert.EqualError(t, err, "database is locked")
	})

	err := b.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, hooked)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	attempts := 0
	expected := errors.New("persistent")

	err := fastBackoff(3).Retry(context.Background(), func() error {
		attempts++
		return expected
	})

	assert.ErrorIs(t, err, expected)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	t.Run("before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := fastBackoff(3).Retry(ctx, func() error {
			called = true
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("during backoff", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 3})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		attempts := 0
		start := time.Now()
		err := b.Retry(ctx, func() error {
			attempts++
			return errors.New("fail")
		})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, attempts)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestBackoff_ExponentialIncrease(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	assert.Equal(t, 100*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, 800*time.Millisecond, b.GetNextDelay(4))
	assert.Equal(t, time.Second, b.GetNextDelay(5), "capped at max delay")
	assert.Equal(t, time.Second, b.GetNextDelay(100))
}

func TestBackoff_WithPredicate_NonRetryableError(t *testing.T) {
	attempts := 0
	fatal := errors.New("invalid database path")

	err := fastBackoff(5).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		delay := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, delay, 150*time.Millisecond)
		assert.LessOrEqual(t, delay, 250*time.Millisecond)
	}

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.GetNextDelay(10), time.Second)
	}
}

func TestSecureFloat64(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := secureFloat64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
