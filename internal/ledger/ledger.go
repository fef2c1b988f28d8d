// Package ledger is the append-only store of maintenance events and the
// recorder that turns one maintenance event into its two writes: the
// history append and the vehicle rollup update.
package ledger

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rcastrodev/taxi-fleet/internal/db"
	"github.com/rcastrodev/taxi-fleet/internal/models"
	"github.com/rcastrodev/taxi-fleet/internal/store"
)

// Ledger appends and lists maintenance events under a vehicle. Events are
// immutable once written; there is no update or delete.
type Ledger interface {
	AddEvent(ctx context.Context, ownerID, vehicleID string, event models.HistoryEvent) (models.HistoryEvent, error)
	ListEvents(ctx context.Context, ownerID, vehicleID string) ([]models.HistoryEvent, error)
}

// Remote implements Ledger over the Mongo history collection.
type Remote struct {
	events db.HistoryCollection
}

// NewRemote builds a ledger over the given history collection.
func NewRemote(events db.HistoryCollection) *Remote {
	return &Remote{events: events}
}

// AddEvent appends one event. It always inserts, never updates.
func (r *Remote) AddEvent(ctx context.Context, ownerID, vehicleID string, event models.HistoryEvent) (models.HistoryEvent, error) {
	event.VehicleID = vehicleID
	if event.Type == "" {
		event.Type = models.EventMaintenance
	}
	id, err := r.events.InsertEvent(ctx, event)
	if err != nil {
		return models.HistoryEvent{}, err
	}
	event.ID = id
	return event, nil
}

// ListEvents returns the vehicle's full history, newest first. The backend
// does not guarantee ordering, so the sort happens here.
func (r *Remote) ListEvents(ctx context.Context, ownerID, vehicleID string) ([]models.HistoryEvent, error) {
	events, err := r.events.FindEvents(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	SortByDateDesc(events)
	return events, nil
}

// SortByDateDesc orders events newest first.
func SortByDateDesc(events []models.HistoryEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})
}

// MaintenanceInput is a maintenance event as entered by the fleet owner.
type MaintenanceInput struct {
	Km             int                `json:"km"`
	OilUsed        string             `json:"oil_used"`
	FiltersChanged []models.FilterTag `json:"filters_changed"`
}

// Recorder performs the two writes of a maintenance event against whichever
// backend pair was composed at startup.
type Recorder struct {
	store  store.Store
	ledger Ledger
	now    func() time.Time
}

// NewRecorder builds a recorder over a store and ledger.
func NewRecorder(st store.Store, led Ledger) *Recorder {
	return &Recorder{store: st, ledger: led, now: time.Now}
}

// RecordMaintenance appends one history event and rolls the vehicle's
// odometer and service fields forward. The two writes are not transactional:
// if the rollup fails after the append succeeded, the history keeps the
// event while the vehicle's rollup fields lag until a later event corrects
// them. That partial state is logged, not compensated.
func (rec *Recorder) RecordMaintenance(ctx context.Context, ownerID, vehicleID string, in MaintenanceInput) (models.HistoryEvent, error) {
	now := rec.now()
	event, err := rec.ledger.AddEvent(ctx, ownerID, vehicleID, models.HistoryEvent{
		Date:           now,
		Km:             in.Km,
		OilUsed:        in.OilUsed,
		FiltersChanged: in.FiltersChanged,
		Type:           models.EventMaintenance,
	})
	if err != nil {
		return models.HistoryEvent{}, err
	}

	if err := rec.store.ApplyService(ctx, ownerID, vehicleID, store.ServiceRollup{Km: in.Km, Date: now}); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"owner_id":   ownerID,
			"vehicle_id": vehicleID,
			"event_id":   event.ID,
		}).Error("rollup update failed after history append; vehicle fields lag its ledger")
		return event, err
	}
	return event, nil
}
