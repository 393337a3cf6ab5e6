package catalog

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/apperr"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/models"
)

func TestRegistry(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertItem(ctx, &models.ItemSnapshot{
		ID: 1, Category: "camera", OwnerID: 2, Name: "Leica M6", Currency: "EUR", DayRate: 10,
		PickupLocation: "Berlin", Attributes: map[string]string{"brand": "Leica", "mount": "M", "studio": "Kreuzberg"},
		IsActive: true,
	}))

	reg, err := NewRegistry([]config.CategoryConfig{
		{Name: "camera", Title: "Cameras", DescribeFields: []string{"brand", "lens"}, PickupAttribute: "studio"},
		{Name: "bike", Title: "Bikes"},
	}, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"bike", "camera"}, reg.Names())

	_, ok := reg.Category("boat")
	assert.False(t, ok)

	cam, ok := reg.Category("camera")
	require.True(t, ok)
	item, err := cam.ReadSnapshot(ctx, 1)
	require.NoError(t, err)

	desc := cam.DescribeForNotification(item)
	assert.Equal(t, "Leica M6", desc["item_name"])
	assert.Equal(t, "Leica", desc["brand"])
	assert.NotContains(t, desc, "lens")
	assert.NotContains(t, desc, "mount")
	assert.Equal(t, "Kreuzberg", cam.PickupLocation(item))

	bike, _ := reg.Category("bike")
	_, err = bike.ReadSnapshot(ctx, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "item of another category")
	assert.Equal(t, "Berlin", bike.PickupLocation(item))

	_, err = cam.ReadSnapshot(ctx, 99)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = NewRegistry([]config.CategoryConfig{{Name: "a"}, {Name: "a"}}, db)
	assert.Error(t, err)
}
