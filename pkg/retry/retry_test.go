package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), p, func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, boom))
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return NonRetryable(errors.New("bad input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNonRetryable(err))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	calls := 0
	err := Do(ctx, p, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDelayGrowth(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestNonRetryableUnwrap(t *testing.T) {
	base := errors.New("base")
	wrapped := NonRetryable(base)
	assert.True(t, errors.Is(wrapped, base))
	assert.Nil(t, NonRetryable(nil))
}
