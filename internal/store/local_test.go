package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(filepath.Join(t.TempDir(), "fleet.json"))
	require.NoError(t, err)
	return l
}

func TestLocal_CreateRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	created, err := l.Create(ctx, "owner-1", models.Vehicle{
		Plate:         "abc-123",
		Model:         "Kia Rio",
		CurrentKm:     42000,
		LastServiceKm: 40000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ABC-123", created.Plate, "plate should be uppercased")
	assert.False(t, created.CreatedAt.IsZero())

	vehicles, err := l.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, created.ID, vehicles[0].ID)
	assert.Equal(t, "Kia Rio", vehicles[0].Model)
	assert.Equal(t, 42000, vehicles[0].CurrentKm)
	assert.Equal(t, 40000, vehicles[0].LastServiceKm)
}

func TestLocal_DeleteExcludesVehicle(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	a, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "AAA-111"})
	require.NoError(t, err)
	b, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "BBB-222"})
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, "owner-1", a.ID))

	vehicles, err := l.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, b.ID, vehicles[0].ID)

	assert.Error(t, l.Delete(ctx, "owner-1", a.ID), "double delete reports not found")
}

func TestLocal_ApplyServiceRollsForward(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	v, err := l.Create(ctx, "owner-1", models.Vehicle{
		Plate:         "SVC-001",
		CurrentKm:     19000,
		LastServiceKm: 15000,
	})
	require.NoError(t, err)

	when := time.Now()
	require.NoError(t, l.ApplyService(ctx, "owner-1", v.ID, ServiceRollup{Km: 20000, Date: when}))

	vehicles, err := l.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	got := vehicles[0]
	assert.Equal(t, 20000, got.CurrentKm)
	assert.Equal(t, 20000, got.LastServiceKm)
	assert.Equal(t, 1, got.ServiceCount)
	assert.WithinDuration(t, when, got.LastServiceDate, time.Second)
}

func TestLocal_ServiceCountMonotonic(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	v, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "CNT-001"})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.ApplyService(ctx, "owner-1", v.ID, ServiceRollup{Km: i * 5000, Date: time.Now()}))
	}
	vehicles, err := l.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 5, vehicles[0].ServiceCount)
}

func TestLocal_SubscribeDeliveries(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	var snapshots [][]models.Vehicle
	cancel, err := l.Subscribe(ctx, "owner-1", func(vs []models.Vehicle) {
		snapshots = append(snapshots, vs)
	})
	require.NoError(t, err)

	require.Len(t, snapshots, 1, "initial delivery at subscribe time")
	assert.Empty(t, snapshots[0])

	v, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "SUB-001"})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots[1], 1)

	require.NoError(t, l.Delete(ctx, "owner-1", v.ID))
	require.Len(t, snapshots, 3)
	assert.Empty(t, snapshots[2])

	// cancelled subscriptions see no further deliveries; double cancel is safe
	cancel()
	cancel()
	_, err = l.Create(ctx, "owner-1", models.Vehicle{Plate: "SUB-002"})
	require.NoError(t, err)
	assert.Len(t, snapshots, 3)
}

func TestLocal_SubscribeScopedToOwner(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	var latest []models.Vehicle
	cancel, err := l.Subscribe(ctx, "owner-1", func(vs []models.Vehicle) { latest = vs })
	require.NoError(t, err)
	defer cancel()

	_, err = l.Create(ctx, "owner-2", models.Vehicle{Plate: "OTH-001"})
	require.NoError(t, err)
	assert.Empty(t, latest, "another owner's vehicle never shows up")
}

func TestLocal_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.json")
	ctx := context.Background()

	l, err := NewLocal(path)
	require.NoError(t, err)
	created, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "PER-001", Model: "Hyundai Accent"})
	require.NoError(t, err)

	reopened, err := NewLocal(path)
	require.NoError(t, err)
	vehicles, err := reopened.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, created.ID, vehicles[0].ID)
	assert.Equal(t, "Hyundai Accent", vehicles[0].Model)
}

func TestLocal_InlineHistory(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	v, err := l.Create(ctx, "owner-1", models.Vehicle{Plate: "HIS-001"})
	require.NoError(t, err)

	ev, err := l.AddEvent(ctx, "owner-1", v.ID, models.HistoryEvent{
		Date:           time.Now(),
		Km:             20000,
		OilUsed:        "10W-40",
		FiltersChanged: []models.FilterTag{models.FilterOil, models.FilterAir},
		Type:           models.EventMaintenance,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, v.ID, ev.VehicleID)

	events, err := l.ListEvents(ctx, "owner-1", v.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 20000, events[0].Km)

	_, err = l.ListEvents(ctx, "owner-1", "missing")
	assert.Error(t, err)
}
