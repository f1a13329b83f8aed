package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingGuard_PadsFastOperations(t *testing.T) {
	guard := NewTimingGuard(50 * time.Millisecond)

	var padded time.Duration
	guard.sleep = func(_ context.Context, d time.Duration) { padded = d }

	err := guard.Run(context.Background(), func() error { return nil })
	require.NoError(t, err)

	assert.Greater(t, padded, time.Duration(0))
	assert.LessOrEqual(t, padded, 50*time.Millisecond)
}

func TestTimingGuard_PadsFailuresIdentically(t *testing.T) {
	guard := NewTimingGuard(50 * time.Millisecond)

	var padded time.Duration
	guard.sleep = func(_ context.Context, d time.Duration) { padded = d }

	wantErr := errors.New("boom")
	err := guard.Run(context.Background(), func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	// Failure paths get the same floor as successes.
	assert.Greater(t, padded, time.Duration(0))
}

func TestTimingGuard_SlowOperationsNotPadded(t *testing.T) {
	guard := NewTimingGuard(time.Millisecond)
	guard.sleep = func(_ context.Context, _ time.Duration) {
		t.Fatal("sleep called for an operation already past the floor")
	}

	err := guard.Run(context.Background(), func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestTimingGuard_ZeroFloorDisabled(t *testing.T) {
	guard := NewTimingGuard(0)

	start := time.Now()
	err := guard.Run(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestTimingGuard_CancelledContextAbandonsPad(t *testing.T) {
	guard := NewTimingGuard(10 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := guard.Run(ctx, func() error { return nil })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
