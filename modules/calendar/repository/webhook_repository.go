package repository

import (
	"context"
	"database/sql"
	"time"

	"orbyt-api/core/database"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/entity"

	"github.com/google/uuid"
)

type WebhookRepository interface {
	Upsert(ctx context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*entity.WebhookSubscription, error)
	GetByChannelID(ctx context.Context, channelID string) (*entity.WebhookSubscription, error)
	ListExpiring(ctx context.Context, before time.Time) ([]entity.WebhookSubscription, error)
	MarkInactive(ctx context.Context, id uuid.UUID) error
	DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error
}

type webhookRepository struct {
	db database.IDatabase
}

func NewWebhookRepository(db database.IDatabase) WebhookRepository {
	return &webhookRepository{db: db}
}

// Upsert keeps at most one subscription per account. Replacing a channel
// overwrites the row in place so notifications for the stale channel stop
// resolving.
func (r *webhookRepository) Upsert(ctx context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	query := `
		INSERT INTO webhook_subscriptions (
			connected_account_id, provider, channel_id, resource_id, callback_url, expires_at, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (connected_account_id, provider) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			resource_id = EXCLUDED.resource_id,
			callback_url = EXCLUDED.callback_url,
			expires_at = EXCLUDED.expires_at,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		sub.ConnectedAccountID, sub.Provider, sub.ChannelID, sub.ResourceID, sub.CallbackURL, sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		logger.Error("WebhookRepository:Upsert:Error", "error", err, "account_id", sub.ConnectedAccountID)
		return nil, err
	}
	return sub, nil
}

func (r *webhookRepository) GetByAccount(ctx context.Context, accountID uuid.UUID) (*entity.WebhookSubscription, error) {
	var sub entity.WebhookSubscription
	query := `SELECT * FROM webhook_subscriptions WHERE connected_account_id = $1 AND is_active = TRUE`
	err := r.db.GetContext(ctx, &sub, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("WebhookRepository:GetByAccount:Error", "error", err, "account_id", accountID)
		return nil, err
	}
	return &sub, nil
}

func (r *webhookRepository) GetByChannelID(ctx context.Context, channelID string) (*entity.WebhookSubscription, error) {
	var sub entity.WebhookSubscription
	query := `SELECT * FROM webhook_subscriptions WHERE channel_id = $1 AND is_active = TRUE`
	err := r.db.GetContext(ctx, &sub, query, channelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("WebhookRepository:GetByChannelID:Error", "error", err)
		return nil, err
	}
	return &sub, nil
}

func (r *webhookRepository) ListExpiring(ctx context.Context, before time.Time) ([]entity.WebhookSubscription, error) {
	subs := []entity.WebhookSubscription{}
	query := `
		SELECT * FROM webhook_subscriptions
		WHERE is_active = TRUE AND expires_at <= $1
		ORDER BY expires_at ASC
	`
	err := r.db.SelectContext(ctx, &subs, query, before)
	if err != nil {
		logger.Error("WebhookRepository:ListExpiring:Error", "error", err)
		return nil, err
	}
	return subs, nil
}

func (r *webhookRepository) MarkInactive(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE webhook_subscriptions SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		logger.Error("WebhookRepository:MarkInactive:Error", "error", err, "subscription_id", id)
	}
	return err
}

func (r *webhookRepository) DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error {
	query := `UPDATE webhook_subscriptions SET is_active = FALSE, updated_at = NOW() WHERE connected_account_id = $1`
	err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		logger.Error("WebhookRepository:DeactivateByAccount:Error", "error", err, "account_id", accountID)
	}
	return err
}
