package models

import (
	"time"
)

// Vehicle represents a taxi in the fleet.
type Vehicle struct {
	ID              string     `bson:"_id,omitempty" json:"id"`
	OwnerID         string     `bson:"owner_id" json:"owner_id"`
	Plate           string     `bson:"plate" json:"plate"`
	Model           string     `bson:"model" json:"model"`
	CurrentKm       int        `bson:"current_km" json:"current_km"`
	LastServiceKm   int        `bson:"last_service_km" json:"last_service_km"`
	LastServiceDate time.Time  `bson:"last_service_date" json:"last_service_date"`
	AfocatDate      *time.Time `bson:"afocat_date,omitempty" json:"afocat_date,omitempty"`
	ReviewDate      *time.Time `bson:"review_date,omitempty" json:"review_date,omitempty"`
	ServiceCount    int        `bson:"service_count" json:"service_count"`
	// History is populated inline in local-store mode only. The remote store
	// keeps events in a separate sub-collection.
	History   []HistoryEvent `bson:"history,omitempty" json:"history,omitempty"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
}
