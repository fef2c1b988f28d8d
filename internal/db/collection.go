package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) (string, error)
	FindVehicles(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (VehicleCursor, error)
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicleFields(ctx context.Context, id string, update bson.M) error
	DeleteVehicle(ctx context.Context, id string) error
}

// VehicleCursor defines the interface for vehicle cursor operations.
type VehicleCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}

// HistoryCollection defines the interface for maintenance history operations.
// Inserts only; history events are never updated or deleted.
type HistoryCollection interface {
	InsertEvent(ctx context.Context, event models.HistoryEvent) (string, error)
	FindEvents(ctx context.Context, vehicleID string) ([]models.HistoryEvent, error)
}

// UserCollection defines the interface for user database operations.
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}
