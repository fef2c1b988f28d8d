package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// ConnectMongo connects to MongoDB at the given URI and verifies the
// connection with a ping.
func ConnectMongo(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoVehicleCollection wraps a MongoDB collection for vehicle operations.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// mongoVehicleCursor wraps a MongoDB cursor for vehicle queries.
type mongoVehicleCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoVehicleCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

// Close closes the cursor.
func (m *mongoVehicleCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// InsertVehicle inserts a vehicle record and returns its assigned id.
func (c *MongoVehicleCollection) InsertVehicle(ctx context.Context, vehicle models.Vehicle) (string, error) {
	if c.Collection == nil {
		return "", fmt.Errorf("mongo collection is nil")
	}
	if vehicle.ID == "" {
		vehicle.ID = primitive.NewObjectID().Hex()
	}
	if _, err := c.Collection.InsertOne(ctx, vehicle); err != nil {
		return "", err
	}
	return vehicle.ID, nil
}

// FindVehicles queries vehicle records from the collection.
func (c *MongoVehicleCollection) FindVehicles(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (VehicleCursor, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoVehicleCursor{cursor: cursor}, nil
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoVehicleCollection) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var vehicle models.Vehicle
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&vehicle)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("vehicle not found")
		}
		return nil, err
	}
	return &vehicle, nil
}

// UpdateVehicleFields applies a partial update to a vehicle. The update
// document is passed through as-is so callers control which fields merge.
func (c *MongoVehicleCollection) UpdateVehicleFields(ctx context.Context, id string, update bson.M) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("vehicle not found")
	}
	return nil
}

// DeleteVehicle deletes a vehicle by its ID. History events under the
// vehicle are not cascade-deleted here.
func (c *MongoVehicleCollection) DeleteVehicle(ctx context.Context, id string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("vehicle not found")
	}
	return nil
}

// MongoHistoryCollection wraps a MongoDB collection for history events.
type MongoHistoryCollection struct {
	Collection *mongo.Collection
}

// InsertEvent appends a history event and returns its assigned id.
func (c *MongoHistoryCollection) InsertEvent(ctx context.Context, event models.HistoryEvent) (string, error) {
	if c.Collection == nil {
		return "", fmt.Errorf("mongo collection is nil")
	}
	if event.ID == "" {
		event.ID = primitive.NewObjectID().Hex()
	}
	if _, err := c.Collection.InsertOne(ctx, event); err != nil {
		return "", err
	}
	return event.ID, nil
}

// FindEvents returns all history events for a vehicle. Ordering is not
// guaranteed by the backend; callers sort.
func (c *MongoHistoryCollection) FindEvents(ctx context.Context, vehicleID string) ([]models.HistoryEvent, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"vehicle_id": vehicleID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var events []models.HistoryEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
