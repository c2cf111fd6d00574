package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	perrors "github.com/p-blackswan/artifact-agent/internal/errors"
)

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return perrors.ErrLLMFatal
	})
	assert.ErrorIs(t, err, perrors.ErrLLMFatal)
	assert.Equal(t, 1, calls) // Should not retry
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 4, BaseDelay: time.Millisecond, Backoff: 2, MaxDelay: 10 * time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return perrors.ErrLLMTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, Backoff: 2, MaxDelay: 10 * time.Millisecond}
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return perrors.ErrLLMTransient
	})
	assert.ErrorIs(t, err, perrors.ErrLLMTransient)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Second, Backoff: 2, MaxDelay: 10 * time.Second}
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(ctx context.Context) error {
		calls++
		return perrors.ErrLLMTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelay_BackoffSchedule(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, Backoff: 2, MaxDelay: 30 * time.Second}
	assert.Equal(t, time.Second, cfg.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 4*time.Second, cfg.Delay(2))
	assert.Equal(t, 30*time.Second, cfg.Delay(10)) // capped
}

func TestDelay_ElapsedLowerBound(t *testing.T) {
	// The n-th retry occurs no earlier than the sum of the preceding delays.
	cfg := Config{MaxAttempts: 4, BaseDelay: 5 * time.Millisecond, Backoff: 2, MaxDelay: time.Second}
	start := time.Now()
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return perrors.ErrLLMTransient
	})
	elapsed := time.Since(start)
	want := cfg.Delay(0) + cfg.Delay(1) + cfg.Delay(2) // 5+10+20ms
	assert.GreaterOrEqual(t, elapsed, want)
}

func TestDelay_ElapsedLowerBoundWithJitter(t *testing.T) {
	// Jitter is additive, so the nominal schedule stays the floor.
	cfg := Config{MaxAttempts: 4, BaseDelay: 5 * time.Millisecond, Backoff: 2, MaxDelay: time.Second, Jitter: true}
	start := time.Now()
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return perrors.ErrLLMTransient
	})
	elapsed := time.Since(start)
	want := cfg.Delay(0) + cfg.Delay(1) + cfg.Delay(2)
	assert.GreaterOrEqual(t, elapsed, want)
}
