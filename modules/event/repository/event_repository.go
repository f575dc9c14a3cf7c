package repository

import (
	"context"
	"database/sql"
	"time"

	"orbyt-api/core/database"
	"orbyt-api/core/logger"
	"orbyt-api/modules/event/entity"

	"github.com/google/uuid"
)

type EventRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Event, error)
	Create(ctx context.Context, event *entity.Event) (*entity.Event, error)
	SetExternalLink(ctx context.Context, eventID uuid.UUID, remoteID, provider string, accountID uuid.UUID, syncedAt time.Time) error
	ClearExternalLink(ctx context.Context, eventID uuid.UUID) error
	ClearExternalLinksByAccount(ctx context.Context, accountID uuid.UUID) error
	StampSynced(ctx context.Context, eventID uuid.UUID, syncedAt time.Time) error
}

type eventRepository struct {
	db database.IDatabase
}

func NewEventRepository(db database.IDatabase) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Event, error) {
	var event entity.Event
	query := `SELECT * FROM events WHERE id = $1`
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetByID:Error", "error", err, "event_id", id)
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) Create(ctx context.Context, event *entity.Event) (*entity.Event, error) {
	query := `
		INSERT INTO events (
			household_id, created_by, title, description, location,
			start_at, end_at, all_day, category,
			external_event_id, external_provider, connected_account_id, last_synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		event.HouseholdID, event.CreatedBy, event.Title, event.Description, event.Location,
		event.StartAt, event.EndAt, event.AllDay, event.Category,
		event.ExternalEventID, event.ExternalProvider, event.ConnectedAccountID, event.LastSyncedAt,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		logger.Error("EventRepository:Create:Error", "error", err)
		return nil, err
	}
	return event, nil
}

func (r *eventRepository) SetExternalLink(ctx context.Context, eventID uuid.UUID, remoteID, provider string, accountID uuid.UUID, syncedAt time.Time) error {
	query := `
		UPDATE events
		SET external_event_id = $1, external_provider = $2, connected_account_id = $3,
		    last_synced_at = $4, updated_at = NOW()
		WHERE id = $5
	`
	err := r.db.ExecContext(ctx, query, remoteID, provider, accountID, syncedAt, eventID)
	if err != nil {
		logger.Error("EventRepository:SetExternalLink:Error", "error", err, "event_id", eventID)
	}
	return err
}

func (r *eventRepository) ClearExternalLink(ctx context.Context, eventID uuid.UUID) error {
	query := `
		UPDATE events
		SET external_event_id = NULL, external_provider = NULL, connected_account_id = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, eventID)
	if err != nil {
		logger.Error("EventRepository:ClearExternalLink:Error", "error", err, "event_id", eventID)
	}
	return err
}

// ClearExternalLinksByAccount detaches every local event from a connected
// account, used when the account is disconnected.
func (r *eventRepository) ClearExternalLinksByAccount(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE events
		SET external_event_id = NULL, external_provider = NULL, connected_account_id = NULL,
		    updated_at = NOW()
		WHERE connected_account_id = $1
	`
	err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		logger.Error("EventRepository:ClearExternalLinksByAccount:Error", "error", err, "account_id", accountID)
	}
	return err
}

func (r *eventRepository) StampSynced(ctx context.Context, eventID uuid.UUID, syncedAt time.Time) error {
	query := `UPDATE events SET last_synced_at = $1, updated_at = NOW() WHERE id = $2`
	err := r.db.ExecContext(ctx, query, syncedAt, eventID)
	if err != nil {
		logger.Error("EventRepository:StampSynced:Error", "error", err, "event_id", eventID)
	}
	return err
}
