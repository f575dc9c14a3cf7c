package dto

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderGoogle  = "google"
	ProviderOutlook = "outlook"
)

type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// ConnectedAccountResponse deliberately carries no token material.
type ConnectedAccountResponse struct {
	ID           uuid.UUID  `json:"id"`
	Provider     string     `json:"provider"`
	Email        string     `json:"email"`
	Scopes       string     `json:"scopes"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    *string    `json:"sync_error,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
}

type SyncResponse struct {
	Processed int `json:"processed"`
}

type ExternalEventResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ConnectedAccountID uuid.UUID  `json:"connected_account_id"`
	RemoteEventID      string     `json:"remote_event_id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description,omitempty"`
	Location           *string    `json:"location,omitempty"`
	StartAt            time.Time  `json:"start_at"`
	EndAt              time.Time  `json:"end_at"`
	AllDay             bool       `json:"all_day"`
	Status             string     `json:"status"`
	LinkedEventID      *uuid.UUID `json:"linked_event_id,omitempty"`
}

type ScopesResponse struct {
	Provider string `json:"provider"`
	Scopes   string `json:"scopes"`
	CanWrite bool   `json:"can_write"`
}

type LinkRequest struct {
	ExternalEventID uuid.UUID `json:"external_event_id" validate:"required"`
}

type PushRequest struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
}

type WebhookResponse struct {
	ChannelID string    `json:"channel_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
