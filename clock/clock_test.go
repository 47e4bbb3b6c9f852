package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Real{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRealSleepElapses(t *testing.T) {
	err := Real{}.Sleep(context.Background(), 5*time.Millisecond)
	assert.NoError(t, err)
}

func TestManualRecordsSleeps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	require.NoError(t, m.Sleep(context.Background(), 500*time.Millisecond))
	require.NoError(t, m.Sleep(context.Background(), time.Second))
	m.Advance(time.Minute)

	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, m.Sleeps())
	assert.Equal(t, start.Add(time.Minute+1500*time.Millisecond), m.Now())
}

func TestManualSleepHonoursContext(t *testing.T) {
	m := NewManual(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, m.Sleeps())
}
