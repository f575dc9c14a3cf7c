package entity

import (
	"time"

	"orbyt-api/core/entity"

	"github.com/google/uuid"
)

// ConnectedAccount is one external calendar account linked by a user.
// AccessToken and RefreshToken hold vault ciphertext, never plaintext.
type ConnectedAccount struct {
	entity.BaseEntity
	UserID            uuid.UUID  `db:"user_id" json:"user_id"`
	Provider          string     `db:"provider" json:"provider"`
	ProviderAccountID string     `db:"provider_account_id" json:"provider_account_id"`
	Email             string     `db:"email" json:"email"`
	AccessToken       string     `db:"access_token" json:"-"`
	RefreshToken      string     `db:"refresh_token" json:"-"`
	TokenExpiresAt    time.Time  `db:"token_expires_at" json:"-"`
	Scopes            string     `db:"scopes" json:"scopes"`
	LastSyncedAt      *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	SyncError         *string    `db:"sync_error" json:"sync_error,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`

	// Incremental sync cursors. Google persists a sync token, Microsoft a
	// delta link; only the column for the account's provider is populated.
	SyncToken *string `db:"sync_token" json:"-"`
	DeltaLink *string `db:"delta_link" json:"-"`
}

func (ConnectedAccount) TableName() string {
	return "connected_accounts"
}

// Cursor returns the stored incremental cursor for the account's provider,
// or "" when the next sync must be a full window sync.
func (a *ConnectedAccount) Cursor() string {
	switch {
	case a.SyncToken != nil && *a.SyncToken != "":
		return *a.SyncToken
	case a.DeltaLink != nil && *a.DeltaLink != "":
		return *a.DeltaLink
	default:
		return ""
	}
}
