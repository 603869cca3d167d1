package throttle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker-project/trackerfs/internal/throttle"
)

func TestZeroLevelDoesNotSleep(t *testing.T) {
	th := throttle.New(0)
	start := time.Now()
	require.NoError(t, th.SleepForCost(context.Background(), 100))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestHigherLevelSleepsLonger(t *testing.T) {
	low := throttle.New(1)
	high := throttle.New(20)

	start := time.Now()
	require.NoError(t, low.SleepForCost(context.Background(), 10))
	lowElapsed := time.Since(start)

	start = time.Now()
	require.NoError(t, high.SleepForCost(context.Background(), 10))
	highElapsed := time.Since(start)

	assert.Greater(t, highElapsed, lowElapsed)
}

func TestSetLevelClampsOutOfRange(t *testing.T) {
	th := throttle.New(5)
	th.SetLevel(-3)
	start := time.Now()
	require.NoError(t, th.SleepForCost(context.Background(), 100))
	assert.Less(t, time.Since(start), 10*time.Millisecond, "negative levels clamp to 0 (no sleep)")
}

func TestSleepForCostHonorsCancellation(t *testing.T) {
	th := throttle.New(20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := th.SleepForCost(ctx, 1000)
	assert.ErrorIs(t, err, context.Canceled)
}
