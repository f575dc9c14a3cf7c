package entity

import (
	"time"

	"orbyt-api/core/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

// ExternalEvent mirrors one remote calendar event inside an account's window.
type ExternalEvent struct {
	entity.BaseEntity
	ConnectedAccountID uuid.UUID      `db:"connected_account_id" json:"connected_account_id"`
	RemoteEventID      string         `db:"remote_event_id" json:"remote_event_id"`
	Title              string         `db:"title" json:"title"`
	Description        *string        `db:"description" json:"description,omitempty"`
	Location           *string        `db:"location" json:"location,omitempty"`
	StartAt            time.Time      `db:"start_at" json:"start_at"`
	EndAt              time.Time      `db:"end_at" json:"end_at"`
	AllDay             bool           `db:"all_day" json:"all_day"`
	Status             string         `db:"status" json:"status"`
	Metadata           types.JSONText `db:"metadata" json:"metadata,omitempty"`
	RemoteUpdatedAt    time.Time      `db:"remote_updated_at" json:"remote_updated_at"`

	// LinkedEventID points at the household event this mirror is paired
	// with, when a link exists.
	LinkedEventID *uuid.UUID `db:"linked_event_id" json:"linked_event_id,omitempty"`
}

func (ExternalEvent) TableName() string {
	return "external_events"
}
