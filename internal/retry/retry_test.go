package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsOnLaterAttempt(t *testing.T) {
	rec := &Recorder{}
	p := Policy{MaxAttempts: 3, Delay: time.Second}

	calls := 0
	n, err := p.Do(context.Background(), rec, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return attempt == 2, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.Delays())
}

func TestDoExhausted(t *testing.T) {
	rec := &Recorder{}
	p := Policy{MaxAttempts: 3, Delay: 500 * time.Millisecond}

	n, err := p.Do(context.Background(), rec, func(context.Context, int) (bool, error) {
		return false, nil
	})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, n)
	// no pause after the final attempt
	assert.Len(t, rec.Delays(), 2)
	assert.Equal(t, time.Second, rec.Total())
}

func TestDoStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	rec := &Recorder{}
	p := Policy{MaxAttempts: 5, Delay: time.Second}

	n, err := p.Do(context.Background(), rec, func(context.Context, int) (bool, error) {
		return false, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Empty(t, rec.Delays())
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Policy{}.Do(context.Background(), &Recorder{}, func(context.Context, int) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoInterruptedSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, Delay: time.Hour}
	_, err := p.Do(ctx, Clock{}, func(context.Context, int) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelayAfterBackoff(t *testing.T) {
	p := Policy{Delay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 350 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.DelayAfter(1))
	assert.Equal(t, 200*time.Millisecond, p.DelayAfter(2))
	assert.Equal(t, 350*time.Millisecond, p.DelayAfter(3))
	assert.Equal(t, 350*time.Millisecond, p.DelayAfter(10))
}

func TestClockSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Clock{}.Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
