package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// Local is the fallback backend used when no remote configuration is
// present. The whole fleet lives in one JSON file; every mutation rewrites
// the file synchronously. History events are stored inline on each vehicle.
// Concurrent processes on the same file are not coordinated: last writer
// wins, with no merge or version check.
type Local struct {
	path string

	mu      sync.Mutex
	subs    map[int]SnapshotFunc
	nextSub int
}

// NewLocal opens (or creates) a local store backed by the given file.
func NewLocal(path string) (*Local, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	l := &Local{path: path, subs: make(map[int]SnapshotFunc)}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.save(nil); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Local) load() ([]models.Vehicle, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}
	var vehicles []models.Vehicle
	if len(data) > 0 {
		if err := json.Unmarshal(data, &vehicles); err != nil {
			return nil, fmt.Errorf("decode local store: %w", err)
		}
	}
	return vehicles, nil
}

func (l *Local) save(vehicles []models.Vehicle) error {
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	data, err := json.MarshalIndent(vehicles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local store: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	return nil
}

// notify pushes the current list to every subscriber. Callers hold l.mu.
func (l *Local) notify(vehicles []models.Vehicle) {
	for _, fn := range l.subs {
		fn(vehicles)
	}
}

// Create appends a vehicle to the array and persists it immediately.
func (l *Local) Create(ctx context.Context, ownerID string, v models.Vehicle) (models.Vehicle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return models.Vehicle{}, err
	}
	v.ID = uuid.NewString()
	v.OwnerID = ownerID
	v.Plate = NormalizePlate(v.Plate)
	v.CreatedAt = time.Now()
	vehicles = append(vehicles, v)
	if err := l.save(vehicles); err != nil {
		return models.Vehicle{}, err
	}
	l.notify(ownedBy(vehicles, ownerID))
	return v, nil
}

// List returns the owner's vehicles from the file.
func (l *Local) List(ctx context.Context, ownerID string) ([]models.Vehicle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return nil, err
	}
	return ownedBy(vehicles, ownerID), nil
}

// ApplyService merges a maintenance rollup into the vehicle in place.
func (l *Local) ApplyService(ctx context.Context, ownerID, vehicleID string, roll ServiceRollup) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return err
	}
	found := false
	for i := range vehicles {
		if vehicles[i].ID == vehicleID && vehicles[i].OwnerID == ownerID {
			vehicles[i].CurrentKm = roll.Km
			vehicles[i].LastServiceKm = roll.Km
			vehicles[i].LastServiceDate = roll.Date
			vehicles[i].ServiceCount++
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("vehicle not found")
	}
	if err := l.save(vehicles); err != nil {
		return err
	}
	l.notify(ownedBy(vehicles, ownerID))
	return nil
}

// Delete removes the vehicle from the array and persists the result.
func (l *Local) Delete(ctx context.Context, ownerID, vehicleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return err
	}
	kept := vehicles[:0]
	found := false
	for _, v := range vehicles {
		if v.ID == vehicleID && v.OwnerID == ownerID {
			found = true
			continue
		}
		kept = append(kept, v)
	}
	if !found {
		return fmt.Errorf("vehicle not found")
	}
	if err := l.save(kept); err != nil {
		return err
	}
	l.notify(ownedBy(kept, ownerID))
	return nil
}

// Subscribe registers a callback that fires with the current list
// immediately and again after every local mutation. This stands in for the
// remote backend's live channel so callers render identically in both modes.
func (l *Local) Subscribe(ctx context.Context, ownerID string, fn SnapshotFunc) (CancelFunc, error) {
	l.mu.Lock()
	vehicles, err := l.load()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = func(vs []models.Vehicle) { fn(ownedBy(vs, ownerID)) }
	l.mu.Unlock()

	fn(ownedBy(vehicles, ownerID))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			log.WithField("owner_id", ownerID).Debug("local subscription cancelled")
		})
	}
	return cancel, nil
}

// AddEvent appends a history event inline on the vehicle record.
func (l *Local) AddEvent(ctx context.Context, ownerID, vehicleID string, event models.HistoryEvent) (models.HistoryEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return models.HistoryEvent{}, err
	}
	event.ID = uuid.NewString()
	event.VehicleID = vehicleID
	for i := range vehicles {
		if vehicles[i].ID == vehicleID && vehicles[i].OwnerID == ownerID {
			vehicles[i].History = append(vehicles[i].History, event)
			if err := l.save(vehicles); err != nil {
				return models.HistoryEvent{}, err
			}
			return event, nil
		}
	}
	return models.HistoryEvent{}, fmt.Errorf("vehicle not found")
}

// ListEvents returns the inline history of a vehicle. Ordering is whatever
// the file holds; callers sort.
func (l *Local) ListEvents(ctx context.Context, ownerID, vehicleID string) ([]models.HistoryEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vehicles, err := l.load()
	if err != nil {
		return nil, err
	}
	for _, v := range vehicles {
		if v.ID == vehicleID && v.OwnerID == ownerID {
			return v.History, nil
		}
	}
	return nil, fmt.Errorf("vehicle not found")
}

func ownedBy(vehicles []models.Vehicle, ownerID string) []models.Vehicle {
	out := make([]models.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	return out
}
