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

type ExternalEventRepository interface {
	Upsert(ctx context.Context, event *entity.ExternalEvent) (*entity.ExternalEvent, error)
	MarkCancelled(ctx context.Context, accountID uuid.UUID, remoteEventID string) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalEvent, error)
	GetByAccountAndRemoteID(ctx context.Context, accountID uuid.UUID, remoteEventID string) (*entity.ExternalEvent, error)
	ListByUserAndRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.ExternalEvent, error)
	SetLinkedEvent(ctx context.Context, id uuid.UUID, eventID *uuid.UUID) error
	ClearLinkForEvent(ctx context.Context, eventID uuid.UUID) error
	DeleteByAccount(ctx context.Context, accountID uuid.UUID) error
}

type externalEventRepository struct {
	db database.IDatabase
}

func NewExternalEventRepository(db database.IDatabase) ExternalEventRepository {
	return &externalEventRepository{db: db}
}

// Upsert applies one remote change. A cancelled remote event keeps its row
// with status "cancelled" so the UI can show the tombstone; an existing link
// survives the update.
func (r *externalEventRepository) Upsert(ctx context.Context, event *entity.ExternalEvent) (*entity.ExternalEvent, error) {
	query := `
		INSERT INTO external_events (
			connected_account_id, remote_event_id, title, description, location,
			start_at, end_at, all_day, status, metadata, remote_updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (connected_account_id, remote_event_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			all_day = EXCLUDED.all_day,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			remote_updated_at = EXCLUDED.remote_updated_at,
			updated_at = NOW()
		RETURNING id, linked_event_id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		event.ConnectedAccountID, event.RemoteEventID, event.Title, event.Description, event.Location,
		event.StartAt, event.EndAt, event.AllDay, event.Status, event.Metadata, event.RemoteUpdatedAt,
	).Scan(&event.ID, &event.LinkedEventID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		logger.Error("ExternalEventRepository:Upsert:Error", "error", err, "remote_event_id", event.RemoteEventID)
		return nil, err
	}
	return event, nil
}

func (r *externalEventRepository) MarkCancelled(ctx context.Context, accountID uuid.UUID, remoteEventID string) error {
	query := `
		UPDATE external_events
		SET status = $1, updated_at = NOW()
		WHERE connected_account_id = $2 AND remote_event_id = $3
	`
	err := r.db.ExecContext(ctx, query, entity.StatusCancelled, accountID, remoteEventID)
	if err != nil {
		logger.Error("ExternalEventRepository:MarkCancelled:Error", "error", err, "remote_event_id", remoteEventID)
	}
	return err
}

func (r *externalEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalEvent, error) {
	var event entity.ExternalEvent
	query := `SELECT * FROM external_events WHERE id = $1`
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ExternalEventRepository:GetByID:Error", "error", err, "external_event_id", id)
		return nil, err
	}
	return &event, nil
}

func (r *externalEventRepository) GetByAccountAndRemoteID(ctx context.Context, accountID uuid.UUID, remoteEventID string) (*entity.ExternalEvent, error) {
	var event entity.ExternalEvent
	query := `SELECT * FROM external_events WHERE connected_account_id = $1 AND remote_event_id = $2`
	err := r.db.GetContext(ctx, &event, query, accountID, remoteEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ExternalEventRepository:GetByAccountAndRemoteID:Error", "error", err, "remote_event_id", remoteEventID)
		return nil, err
	}
	return &event, nil
}

func (r *externalEventRepository) ListByUserAndRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.ExternalEvent, error) {
	events := []entity.ExternalEvent{}
	query := `
		SELECT ee.* FROM external_events ee
		JOIN connected_accounts ca ON ca.id = ee.connected_account_id
		WHERE ca.user_id = $1 AND ca.is_active = TRUE
		  AND ee.start_at < $3 AND ee.end_at > $2
		ORDER BY ee.start_at ASC
	`
	err := r.db.SelectContext(ctx, &events, query, userID, from, to)
	if err != nil {
		logger.Error("ExternalEventRepository:ListByUserAndRange:Error", "error", err, "user_id", userID)
		return nil, err
	}
	return events, nil
}

func (r *externalEventRepository) SetLinkedEvent(ctx context.Context, id uuid.UUID, eventID *uuid.UUID) error {
	query := `UPDATE external_events SET linked_event_id = $1, updated_at = NOW() WHERE id = $2`
	err := r.db.ExecContext(ctx, query, eventID, id)
	if err != nil {
		logger.Error("ExternalEventRepository:SetLinkedEvent:Error", "error", err, "external_event_id", id)
	}
	return err
}

// ClearLinkForEvent removes every mirror-side pointer at the given household
// event. Run alongside the event-side clear so a half-written link cannot
// survive an unlink.
func (r *externalEventRepository) ClearLinkForEvent(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE external_events SET linked_event_id = NULL, updated_at = NOW() WHERE linked_event_id = $1`
	err := r.db.ExecContext(ctx, query, eventID)
	if err != nil {
		logger.Error("ExternalEventRepository:ClearLinkForEvent:Error", "error", err, "event_id", eventID)
	}
	return err
}

func (r *externalEventRepository) DeleteByAccount(ctx context.Context, accountID uuid.UUID) error {
	query := `DELETE FROM external_events WHERE connected_account_id = $1`
	err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		logger.Error("ExternalEventRepository:DeleteByAccount:Error", "error", err, "account_id", accountID)
	}
	return err
}
