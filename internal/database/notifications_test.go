package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/models"
)

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n := &models.Notification{
		EventKey:       "booking:1:request:owner",
		EventType:      models.EventRequest,
		BookingID:      1,
		RecipientEmail: "bob@example.com",
		RecipientRole:  models.RoleOwner,
		TemplateData:   map[string]any{"item_name": "Leica M6"},
	}
	created, err := db.CreateNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, n.ID)

	dup := *n
	dup.ID = 0
	created, err = db.CreateNotification(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created, "same event key must not be stored twice")

	pending, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Leica M6", pending[0].TemplateData["item_name"])

	t.Run("ClaimIsExclusive", func(t *testing.T) {
		ok, err := db.ClaimNotification(ctx, n.ID, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.ClaimNotification(ctx, n.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("ExpiredLeaseIsReclaimable", func(t *testing.T) {
		past := time.Now().Add(-time.Second)
		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationProcessing, "", &past))

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		ok, err := db.ClaimNotification(ctx, n.ID, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RetryThenFail", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetry, "smtp down", &future))

		got, err := db.GetNotificationByKey(ctx, n.EventKey)
		require.NoError(t, err)
		assert.Equal(t, models.NotificationRetry, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "smtp down", *got.LastError)

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending, "retry is not due yet")

		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationFailed, "gave up", nil))
		failed, err := db.GetFailedNotifications(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.NotNil(t, failed[0].ProcessedAt)
	})
}
