// Package store persists the fleet behind one of two interchangeable
// backends: a remote MongoDB store with a live MQTT snapshot channel, or a
// synchronous local JSON file. The backend is chosen once at startup from
// configuration; there is no fallback or migration between the two at
// runtime.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// SnapshotFunc receives the entire current fleet list on every delivery.
// Deliveries are full replacements, never incremental diffs.
type SnapshotFunc func(vehicles []models.Vehicle)

// CancelFunc tears down a subscription. Safe to call more than once; the
// underlying channel is released exactly once.
type CancelFunc func()

// ServiceRollup carries the vehicle fields rolled forward by one
// maintenance event. Applying it sets current and last-service odometer
// readings to Km, sets the last service date, and increments the service
// counter by one. It never touches history.
type ServiceRollup struct {
	Km   int
	Date time.Time
}

// Store is the persistence surface for the vehicle fleet.
type Store interface {
	// Create stores a new vehicle under the owner and returns it with its
	// backend-assigned id and creation timestamp.
	Create(ctx context.Context, ownerID string, v models.Vehicle) (models.Vehicle, error)

	// List returns the owner's full fleet.
	List(ctx context.Context, ownerID string) ([]models.Vehicle, error)

	// ApplyService merges a maintenance rollup into the named vehicle.
	ApplyService(ctx context.Context, ownerID, vehicleID string, roll ServiceRollup) error

	// Delete removes a vehicle. The vehicle's history is not cascade-deleted.
	Delete(ctx context.Context, ownerID, vehicleID string) error

	// Subscribe opens a snapshot stream for the owner's fleet and returns a
	// cancel func. The callback fires with the full list on every change.
	Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (CancelFunc, error)
}

// NormalizePlate uppercases and trims a license plate so plates compare
// consistently within a fleet.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}
