package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ski-conditions/internal/resort"
)

func exerciseAlertStore(t *testing.T, s *Store) {
	ctx := context.Background()

	sub := resort.Subscription{
		ID:            "sub-1",
		OwnerID:       "user-1",
		Email:         "skier@example.com",
		ResortID:      "alta-ski-area",
		Threshold:     "good",
		TimeframeDays: 5,
		Active:        true,
		CreatedAt:     testNow,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	other := sub
	other.ID, other.ResortID, other.CreatedAt = "sub-2", "stowe", testNow.Add(time.Minute)
	require.NoError(t, s.CreateSubscription(ctx, other))

	got, err := s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "good", got.Threshold)
	assert.True(t, got.Active)
	assert.True(t, got.LastChecked.IsZero())
	assert.True(t, testNow.Equal(got.CreatedAt))

	_, err = s.GetSubscription(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := s.ListActiveSubscriptions(ctx, "alta-ski-area")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sub-1", active[0].ID)

	all, err := s.ListActiveSubscriptions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	checked := testNow.Add(time.Hour)
	require.NoError(t, s.TouchSubscription(ctx, "sub-1", checked, time.Time{}))
	got, err = s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, checked.Equal(got.LastChecked))
	assert.True(t, got.LastTriggered.IsZero())

	require.NoError(t, s.TouchSubscription(ctx, "sub-1", checked, checked))
	got, err = s.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, checked.Equal(got.LastTriggered))

	_, found, err := s.LatestNotificationAt(ctx, "sub-1", "2026-01-02")
	require.NoError(t, err)
	assert.False(t, found)

	for i, created := range []time.Time{testNow.Add(-3 * time.Hour), testNow.Add(-time.Hour)} {
		require.NoError(t, s.CreateNotification(ctx, resort.Notification{
			ID:                []string{"n-1", "n-2"}[i],
			SubscriptionID:    "sub-1",
			OwnerID:           "user-1",
			ResortID:          "alta-ski-area",
			Title:             "Good snow at Alta Ski Area",
			Message:           "10 inches expected",
			PredictedSnowfall: 10,
			ForecastDate:      "2026-01-02",
			CreatedAt:         created,
		}))
	}

	latest, found, err := s.LatestNotificationAt(ctx, "sub-1", "2026-01-02")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, testNow.Add(-time.Hour).Equal(latest))

	notes, err := s.ListNotifications(ctx, "user-1", false)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "n-2", notes[0].ID, "newest first")

	require.NoError(t, s.MarkNotificationRead(ctx, "n-2", "user-1"))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "n-1", "user-2"), ErrNotFound)

	unread, err := s.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "n-1", unread[0].ID)

	assert.ErrorIs(t, s.DeactivateSubscription(ctx, "sub-1", "user-2"), ErrNotFound)
	require.NoError(t, s.DeactivateSubscription(ctx, "sub-1", "user-1"))
	active, err = s.ListActiveSubscriptions(ctx, "alta-ski-area")
	require.NoError(t, err)
	assert.Empty(t, active)

	mine, err := s.ListSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "sub-2", mine[0].ID)
	assert.False(t, mine[1].Active)

	require.NoError(t, s.DeleteSubscription(ctx, "sub-2", "user-1"))
	assert.ErrorIs(t, s.DeleteSubscription(ctx, "sub-2", "user-1"), ErrNotFound)
}

func TestAlertStoreCurrentLayout(t *testing.T) {
	exerciseAlertStore(t, newTestStore(t))
}

func TestAlertStoreLegacyLayout(t *testing.T) {
	exerciseAlertStore(t, newLegacyStore(t))
}
