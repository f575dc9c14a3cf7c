package entity

import (
	"time"

	"github.com/google/uuid"
	"orbyt-api/core/entity"
)

// Event is the household event record owned by the event CRUD module. The
// calendar sync subsystem only reads it and maintains its external link
// columns; recurrence expansion and the CRUD surface live elsewhere.
type Event struct {
	entity.BaseEntity
	HouseholdID uuid.UUID `db:"household_id" json:"household_id"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	Location    *string   `db:"location" json:"location,omitempty"`
	StartAt     time.Time `db:"start_at" json:"start_at"`
	EndAt       time.Time `db:"end_at" json:"end_at"`
	AllDay      bool      `db:"all_day" json:"all_day"`
	Category    string    `db:"category" json:"category"`

	// External link columns. ExternalEventID holds the provider-issued
	// remote event id; once known it is authoritative.
	ExternalEventID    *string    `db:"external_event_id" json:"external_event_id,omitempty"`
	ExternalProvider   *string    `db:"external_provider" json:"external_provider,omitempty"`
	ConnectedAccountID *uuid.UUID `db:"connected_account_id" json:"connected_account_id,omitempty"`
	LastSyncedAt       *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

func (Event) TableName() string {
	return "events"
}
