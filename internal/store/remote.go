package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rcastrodev/taxi-fleet/internal/db"
	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// Broker is the pub/sub channel carrying fleet snapshots. The production
// implementation is MQTT; tests substitute an in-memory fake.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string) error
}

// Remote persists vehicles in MongoDB scoped to an owner and broadcasts a
// full fleet snapshot over the broker after every mutation. Subscribers
// always receive complete replacement lists; a locally issued write is only
// reflected once the next snapshot arrives.
type Remote struct {
	vehicles db.VehicleCollection
	broker   Broker
}

// NewRemote builds the remote backend over the given collection and broker.
func NewRemote(vehicles db.VehicleCollection, broker Broker) *Remote {
	return &Remote{vehicles: vehicles, broker: broker}
}

// SnapshotTopic names the per-owner MQTT topic carrying fleet snapshots.
func SnapshotTopic(ownerID string) string {
	return fmt.Sprintf("fleet/%s/vehicles", ownerID)
}

// Create inserts a vehicle with a server-assigned creation timestamp.
func (r *Remote) Create(ctx context.Context, ownerID string, v models.Vehicle) (models.Vehicle, error) {
	v.OwnerID = ownerID
	v.Plate = NormalizePlate(v.Plate)
	v.CreatedAt = time.Now()
	v.History = nil // remote mode keeps history in its own collection

	id, err := r.vehicles.InsertVehicle(ctx, v)
	if err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Error("remote create failed")
		return models.Vehicle{}, err
	}
	v.ID = id
	r.publishSnapshot(ctx, ownerID)
	return v, nil
}

// List returns the owner's full fleet.
func (r *Remote) List(ctx context.Context, ownerID string) ([]models.Vehicle, error) {
	cursor, err := r.vehicles.FindVehicles(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var vehicles []models.Vehicle
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// ApplyService merges the rollup fields into the vehicle document. Only the
// named odometer and service fields change; history is never touched here.
func (r *Remote) ApplyService(ctx context.Context, ownerID, vehicleID string, roll ServiceRollup) error {
	update := bson.M{
		"$set": bson.M{
			"current_km":        roll.Km,
			"last_service_km":   roll.Km,
			"last_service_date": roll.Date,
		},
		"$inc": bson.M{"service_count": 1},
	}
	if err := r.vehicles.UpdateVehicleFields(ctx, vehicleID, update); err != nil {
		// Logged, never retried. The subscription stream does not carry
		// failures; the fleet reads stale until a later write corrects it.
		log.WithError(err).WithFields(log.Fields{
			"owner_id":   ownerID,
			"vehicle_id": vehicleID,
		}).Error("remote service update failed")
		return err
	}
	r.publishSnapshot(ctx, ownerID)
	return nil
}

// Delete removes the vehicle document. Its history sub-collection stays.
func (r *Remote) Delete(ctx context.Context, ownerID, vehicleID string) error {
	if err := r.vehicles.DeleteVehicle(ctx, vehicleID); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"owner_id":   ownerID,
			"vehicle_id": vehicleID,
		}).Error("remote delete failed")
		return err
	}
	r.publishSnapshot(ctx, ownerID)
	return nil
}

// Subscribe fetches the current fleet once, then relays every broker
// snapshot until cancelled. Cancellation releases the topic exactly once.
func (r *Remote) Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (CancelFunc, error) {
	topic := SnapshotTopic(ownerID)
	if err := r.broker.Subscribe(topic, func(payload []byte) {
		var vehicles []models.Vehicle
		if err := json.Unmarshal(payload, &vehicles); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("dropping undecodable snapshot")
			return
		}
		fn(vehicles)
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	vehicles, err := r.List(ctx, ownerID)
	if err != nil {
		_ = r.broker.Unsubscribe(topic)
		return nil, err
	}
	fn(vehicles)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := r.broker.Unsubscribe(topic); err != nil {
				log.WithError(err).WithField("topic", topic).Warn("unsubscribe failed")
			}
		})
	}
	return cancel, nil
}

// publishSnapshot pushes the owner's full fleet onto the broker. Failures
// are logged and dropped: the next successful mutation republishes.
func (r *Remote) publishSnapshot(ctx context.Context, ownerID string) {
	vehicles, err := r.List(ctx, ownerID)
	if err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Error("snapshot fetch failed")
		return
	}
	payload, err := json.Marshal(vehicles)
	if err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Error("snapshot encode failed")
		return
	}
	if err := r.broker.Publish(SnapshotTopic(ownerID), payload); err != nil {
		log.WithError(err).WithField("owner_id", ownerID).Error("snapshot publish failed")
	}
}
