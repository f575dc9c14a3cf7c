package entity

import (
	"time"

	"orbyt-api/core/entity"

	"github.com/google/uuid"
)

// WebhookSubscription is one push channel registered with a provider.
// ChannelID is the identifier a provider echoes back in notifications
// (Google channel id, Microsoft subscription id). ResourceID holds the
// provider's secondary identifier: Google's resource id needed to stop a
// channel, Microsoft's client state echoed in notifications.
type WebhookSubscription struct {
	entity.BaseEntity
	ConnectedAccountID uuid.UUID `db:"connected_account_id" json:"connected_account_id"`
	Provider           string    `db:"provider" json:"provider"`
	ChannelID          string    `db:"channel_id" json:"channel_id"`
	ResourceID         *string   `db:"resource_id" json:"resource_id,omitempty"`
	CallbackURL        string    `db:"callback_url" json:"callback_url"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
	IsActive           bool      `db:"is_active" json:"is_active"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}
