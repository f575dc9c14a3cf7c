package repository

import (
	"context"
	"database/sql"
	"time"

	"orbyt-api/core/database"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/entity"

	"github.com/google/uuid"
)

type AccountRepository interface {
	Upsert(ctx context.Context, account *entity.ConnectedAccount) (*entity.ConnectedAccount, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ConnectedAccount, error)
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*entity.ConnectedAccount, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]entity.ConnectedAccount, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	RecordSyncSuccess(ctx context.Context, id uuid.UUID, provider, cursor string, syncedAt time.Time) error
	RecordSyncError(ctx context.Context, id uuid.UUID, message string) error
	ClearCursor(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type accountRepository struct {
	db database.IDatabase
}

func NewAccountRepository(db database.IDatabase) AccountRepository {
	return &accountRepository{db: db}
}

// Upsert inserts a connected account, or refreshes the credentials of an
// existing row when the same provider account is reconnected. Reconnecting
// also reactivates a previously disconnected account.
func (r *accountRepository) Upsert(ctx context.Context, account *entity.ConnectedAccount) (*entity.ConnectedAccount, error) {
	query := `
		INSERT INTO connected_accounts (
			user_id, provider, provider_account_id, email,
			access_token, refresh_token, token_expires_at, scopes, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (user_id, provider, provider_account_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			is_active = TRUE,
			sync_error = NULL,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		account.UserID, account.Provider, account.ProviderAccountID, account.Email,
		account.AccessToken, account.RefreshToken, account.TokenExpiresAt, account.Scopes,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		logger.Error("AccountRepository:Upsert:Error", "error", err, "provider", account.Provider)
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ConnectedAccount, error) {
	var account entity.ConnectedAccount
	query := `SELECT * FROM connected_accounts WHERE id = $1`
	err := r.db.GetContext(ctx, &account, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("AccountRepository:GetByID:Error", "error", err, "account_id", id)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*entity.ConnectedAccount, error) {
	var account entity.ConnectedAccount
	query := `SELECT * FROM connected_accounts WHERE id = $1 AND user_id = $2`
	err := r.db.GetContext(ctx, &account, query, id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("AccountRepository:GetByIDForUser:Error", "error", err, "account_id", id)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]entity.ConnectedAccount, error) {
	accounts := []entity.ConnectedAccount{}
	query := `
		SELECT * FROM connected_accounts
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC
	`
	err := r.db.SelectContext(ctx, &accounts, query, userID)
	if err != nil {
		logger.Error("AccountRepository:ListActiveByUser:Error", "error", err, "user_id", userID)
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE connected_accounts
		SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		logger.Error("AccountRepository:UpdateTokens:Error", "error", err, "account_id", id)
	}
	return err
}

// RecordSyncSuccess stores the rotated cursor in the provider's column and
// clears any previous sync error.
func (r *accountRepository) RecordSyncSuccess(ctx context.Context, id uuid.UUID, provider, cursor string, syncedAt time.Time) error {
	column := "sync_token"
	if provider == dto.ProviderOutlook {
		column = "delta_link"
	}
	query := `
		UPDATE connected_accounts
		SET ` + column + ` = $1, last_synced_at = $2, sync_error = NULL, updated_at = NOW()
		WHERE id = $3
	`
	err := r.db.ExecContext(ctx, query, cursor, syncedAt, id)
	if err != nil {
		logger.Error("AccountRepository:RecordSyncSuccess:Error", "error", err, "account_id", id)
	}
	return err
}

func (r *accountRepository) RecordSyncError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE connected_accounts SET sync_error = $1, updated_at = NOW() WHERE id = $2`
	err := r.db.ExecContext(ctx, query, message, id)
	if err != nil {
		logger.Error("AccountRepository:RecordSyncError:Error", "error", err, "account_id", id)
	}
	return err
}

// ClearCursor drops both cursor columns so the next sync runs full.
func (r *accountRepository) ClearCursor(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE connected_accounts
		SET sync_token = NULL, delta_link = NULL, updated_at = NOW()
		WHERE id = $1
	`
	err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		logger.Error("AccountRepository:ClearCursor:Error", "error", err, "account_id", id)
	}
	return err
}

func (r *accountRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE connected_accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		logger.Error("AccountRepository:Deactivate:Error", "error", err, "account_id", id)
	}
	return err
}
