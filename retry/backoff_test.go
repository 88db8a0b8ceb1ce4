package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	r := New(fastPolicy(2), zap.NewNop())

	calls := 0
	boom := errors.New("boom")
	err := r.Do(context.Background(), func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls) // 1 initial + 2 retries
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := fastPolicy(5)
	p.Retryable = types.IsRetryable
	r := New(p, zap.NewNop())

	calls := 0
	fatal := types.NewError(types.ErrDimensionMismatch, "dim mismatch")
	err := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := &Policy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
	}
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Do(ctx, func() error { return errors.New("always") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOnRetryCallback(t *testing.T) {
	p := fastPolicy(2)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := New(p, zap.NewNop())

	_ = r.Do(context.Background(), func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestNewCorrectsInvalidPolicy(t *testing.T) {
	r := New(&Policy{MaxRetries: -1, Multiplier: 0.1}, nil)
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.Equal(t, 200*time.Millisecond, r.policy.InitialDelay)
}
