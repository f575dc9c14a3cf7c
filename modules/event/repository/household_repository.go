package repository

import (
	"context"
	"database/sql"

	"orbyt-api/core/database"
	"orbyt-api/core/logger"

	"github.com/google/uuid"
)

type HouseholdRepository interface {
	IsMember(ctx context.Context, userID, householdID uuid.UUID) (bool, error)
	// DefaultHouseholdID resolves the household auto-imported events land in.
	// Policy: the user's earliest membership.
	DefaultHouseholdID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

type householdRepository struct {
	db database.IDatabase
}

func NewHouseholdRepository(db database.IDatabase) HouseholdRepository {
	return &householdRepository{db: db}
}

func (r *householdRepository) IsMember(ctx context.Context, userID, householdID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM household_members
			WHERE user_id = $1 AND household_id = $2
		)
	`
	err := r.db.QueryRowContext(ctx, query, userID, householdID).Scan(&exists)
	if err != nil {
		logger.Error("HouseholdRepository:IsMember:Error", "error", err, "user_id", userID)
		return false, err
	}
	return exists, nil
}

func (r *householdRepository) DefaultHouseholdID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var householdID uuid.UUID
	query := `
		SELECT household_id FROM household_members
		WHERE user_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&householdID)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Error("HouseholdRepository:DefaultHouseholdID:Error", "error", err, "user_id", userID)
		}
		return uuid.Nil, err
	}
	return householdID, nil
}
