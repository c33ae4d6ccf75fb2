package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerForcedUpdatesAlwaysLand(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	tracker := NewTracker(store, "job-1", 25000)

	tracker.Publish(ctx, Update{Status: "importing", Stage: "batch_1", Processed: 10000, Force: true})
	tracker.Publish(ctx, Update{Status: "importing", Stage: "batch_2", Processed: 20000, Force: true})

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "batch_2", got["stage"])
	assert.Equal(t, float64(20000), got["processed_rows"])
	assert.Equal(t, 80.0, got["progress"])
}

func TestTrackerRateLimitsUnforcedUpdates(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	tracker := NewTracker(store, "job-2", 100)

	tracker.Publish(ctx, Update{Status: "importing", Stage: "batch_1", Processed: 1, Force: true})
	// Immediately after a publish, unforced updates are dropped.
	tracker.Publish(ctx, Update{Status: "importing", Stage: "batch_1", Processed: 50})

	got, err := store.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got["processed_rows"])
}

func TestTrackerCarriesErrorMessage(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	tracker := NewTracker(store, "job-3", 100)

	tracker.Publish(ctx, Update{Status: "failed", Processed: 40, ErrorMessage: "database: boom", Force: true})

	got, err := store.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "database: boom", got["error_message"])
}

func TestPercent(t *testing.T) {
	assert.Nil(t, Percent(10, 0))
	assert.Nil(t, Percent(0, -1))
	assert.Equal(t, 50.0, Percent(5, 10))
	assert.Equal(t, 41.67, Percent(12500, 30000).(float64))
	// The counter can briefly run past the estimate on re-delivery.
	assert.Equal(t, 100.0, Percent(11, 10))
}
