package models

import (
	"time"
)

// EventType classifies a history event. Maintenance is the only type recorded
// today; the field exists so the ledger stays append-compatible.
type EventType string

const (
	EventMaintenance EventType = "maintenance"
)

// FilterTag marks a consumable replaced during a maintenance event.
type FilterTag string

const (
	FilterOil           FilterTag = "oil_filter"
	FilterAir           FilterTag = "air_filter"
	FilterFuel          FilterTag = "fuel_filter"
	FilterGearboxGrease FilterTag = "gearbox_grease"
)

// HistoryEvent is one recorded service action on a vehicle. Events are
// append-only: they are never mutated or deleted once written.
type HistoryEvent struct {
	ID             string      `bson:"_id,omitempty" json:"id"`
	VehicleID      string      `bson:"vehicle_id" json:"vehicle_id"`
	Date           time.Time   `bson:"date" json:"date"`
	Km             int         `bson:"km" json:"km"`
	OilUsed        string      `bson:"oil_used" json:"oil_used"`
	FiltersChanged []FilterTag `bson:"filters_changed,omitempty" json:"filters_changed,omitempty"`
	Type           EventType   `bson:"type" json:"type"`
}

// IsValidFilterTag checks if a tag is one of the known consumables.
func IsValidFilterTag(tag FilterTag) bool {
	switch tag {
	case FilterOil, FilterAir, FilterFuel, FilterGearboxGrease:
		return true
	default:
		return false
	}
}
