package service

import (
	"context"
	"time"

	"orbyt-api/core/constants"
	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"
	evententity "orbyt-api/modules/event/entity"
	eventrepo "orbyt-api/modules/event/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type SyncService interface {
	// SyncCalendar is the user-initiated entry point; it enforces the
	// cooldown and surfaces errors.
	SyncCalendar(ctx context.Context, userID, accountID uuid.UUID) (*dto.SyncResponse, *errors.AppError)
	// SyncAccount is the task entry point used by webhook-triggered syncs.
	SyncAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	ListExternalEvents(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]dto.ExternalEventResponse, *errors.AppError)
}

type syncService struct {
	accountRepo   repository.AccountRepository
	externalRepo  repository.ExternalEventRepository
	eventRepo     eventrepo.EventRepository
	householdRepo eventrepo.HouseholdRepository
	providers     *provider.Registry
	tokens        *TokenManager
	now           func() time.Time
}

func NewSyncService(
	accountRepo repository.AccountRepository,
	externalRepo repository.ExternalEventRepository,
	eventRepo eventrepo.EventRepository,
	householdRepo eventrepo.HouseholdRepository,
	providers *provider.Registry,
	tokens *TokenManager,
) SyncService {
	return &syncService{
		accountRepo:   accountRepo,
		externalRepo:  externalRepo,
		eventRepo:     eventRepo,
		householdRepo: householdRepo,
		providers:     providers,
		tokens:        tokens,
		now:           time.Now,
	}
}

func (s *syncService) SyncCalendar(ctx context.Context, userID, accountID uuid.UUID) (*dto.SyncResponse, *errors.AppError) {
	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil || !account.IsActive {
		return nil, errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}

	// Cooldown since the last successful sync. Persisted, so it holds
	// across restarts and multiple instances.
	if account.LastSyncedAt != nil && s.now().Sub(*account.LastSyncedAt) < constants.SyncCooldown {
		return nil, errors.NewAppError(errors.ErrRateLimited, "calendar was synced less than a minute ago", nil)
	}

	processed, appErr := s.runSync(ctx, account)
	if appErr != nil {
		return nil, appErr
	}
	return &dto.SyncResponse{Processed: processed}, nil
}

func (s *syncService) SyncAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account == nil || !account.IsActive {
		logger.Warn("SyncService:SyncAccount:Skipped", "account_id", accountID)
		return 0, nil
	}
	processed, appErr := s.runSync(ctx, account)
	if appErr != nil {
		return 0, appErr
	}
	return processed, nil
}

// runSync executes one synchronization pass: refresh credentials, pull
// changes (incremental when a cursor exists, falling back to a full window
// in the same call when the provider rejects it), apply every item, then
// rotate the cursor. Unrecoverable errors land on the account's sync_error
// column before they surface.
func (s *syncService) runSync(ctx context.Context, account *entity.ConnectedAccount) (int, *errors.AppError) {
	adapter := s.providers.For(account.Provider)
	if adapter == nil {
		return 0, errors.NewAppError(errors.ErrConfiguration, "provider not configured: "+account.Provider, nil)
	}

	accessToken, appErr := s.tokens.EnsureAccessToken(ctx, account)
	if appErr != nil {
		return 0, s.failSync(ctx, account, appErr)
	}

	window := provider.Window{
		From: s.now(),
		To:   s.now().AddDate(0, 0, constants.SyncWindowDays),
	}

	cursor := account.Cursor()
	set, err := adapter.ListChanges(ctx, accessToken, cursor, window)
	if err != nil {
		return 0, s.failSync(ctx, account, errors.NewAppError(errors.ErrRemoteProvider, "failed to list calendar changes", err))
	}
	if set.CursorExpired {
		// Stale cursor: drop it and rerun as a full window sync within
		// the same operation.
		if err := s.accountRepo.ClearCursor(ctx, account.ID); err != nil {
			return 0, s.failSync(ctx, account, errors.NewAppError(errors.ErrInternalServer, "failed to clear sync cursor", err))
		}
		set, err = adapter.ListChanges(ctx, accessToken, "", window)
		if err != nil {
			return 0, s.failSync(ctx, account, errors.NewAppError(errors.ErrRemoteProvider, "failed to list calendar changes", err))
		}
	}

	processed := 0
	for _, item := range set.Items {
		if item.Cancelled {
			if err := s.externalRepo.MarkCancelled(ctx, account.ID, item.RemoteID); err != nil {
				return processed, s.failSync(ctx, account, errors.NewAppError(errors.ErrInternalServer, "failed to mark cancelled event", err))
			}
			processed++
			continue
		}

		external := remoteToExternal(account.ID, item)
		external, err := s.externalRepo.Upsert(ctx, external)
		if err != nil {
			return processed, s.failSync(ctx, account, errors.NewAppError(errors.ErrInternalServer, "failed to store external event", err))
		}
		processed++

		if external.LinkedEventID == nil && !s.relinkOwnWrite(ctx, account, external, item.SourceEventID) {
			// Best effort: one bad import must not sink the batch.
			s.autoImport(ctx, account, external)
		}
	}

	if err := s.accountRepo.RecordSyncSuccess(ctx, account.ID, account.Provider, set.NextCursor, s.now()); err != nil {
		return processed, errors.NewAppError(errors.ErrInternalServer, "failed to record sync result", err)
	}

	logger.Info("SyncService:runSync:Done",
		"account_id", account.ID,
		"provider", account.Provider,
		"processed", processed,
		"incremental", cursor != "",
	)
	return processed, nil
}

func (s *syncService) failSync(ctx context.Context, account *entity.ConnectedAccount, appErr *errors.AppError) *errors.AppError {
	if err := s.accountRepo.RecordSyncError(ctx, account.ID, appErr.Message); err != nil {
		logger.Error("SyncService:failSync:RecordError", "error", err, "account_id", account.ID)
	}
	return appErr
}

// relinkOwnWrite reattaches a remote event that our own write-back created.
// The write stamps the local event id into provider metadata, so when the
// process dies between the remote create and the local stamp, the next sync
// finds the marker here and completes the link instead of importing the
// user's own event as a duplicate.
func (s *syncService) relinkOwnWrite(ctx context.Context, account *entity.ConnectedAccount, external *entity.ExternalEvent, sourceEventID string) bool {
	if sourceEventID == "" {
		return false
	}
	eventID, err := uuid.Parse(sourceEventID)
	if err != nil {
		return false
	}
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil || event == nil || event.CreatedBy != account.UserID {
		return false
	}
	if event.ExternalEventID != nil && *event.ExternalEventID != external.RemoteEventID {
		// The marked event is already linked somewhere else; treat the
		// remote copy as foreign.
		return false
	}

	if err := s.eventRepo.SetExternalLink(ctx, event.ID, external.RemoteEventID, account.Provider, account.ID, s.now()); err != nil {
		logger.Warn("SyncService:relinkOwnWrite:StampError", "event_id", event.ID, "error", err)
		return false
	}
	if err := s.externalRepo.SetLinkedEvent(ctx, external.ID, &event.ID); err != nil {
		logger.Warn("SyncService:relinkOwnWrite:LinkError", "external_event_id", external.ID, "error", err)
	}
	external.LinkedEventID = &event.ID

	logger.Info("SyncService:relinkOwnWrite:Reattached",
		"event_id", event.ID,
		"remote_event_id", external.RemoteEventID,
		"account_id", account.ID,
	)
	return true
}

// autoImport creates a household event for an unlinked external event and
// wires the bidirectional link. Failures are logged and skipped.
func (s *syncService) autoImport(ctx context.Context, account *entity.ConnectedAccount, external *entity.ExternalEvent) {
	householdID, err := s.householdRepo.DefaultHouseholdID(ctx, account.UserID)
	if err != nil {
		logger.Warn("SyncService:autoImport:NoHousehold", "account_id", account.ID, "error", err)
		return
	}

	now := s.now()
	remoteID := external.RemoteEventID
	providerName := account.Provider
	accountID := account.ID
	event := &evententity.Event{
		HouseholdID:        householdID,
		CreatedBy:          account.UserID,
		Title:              external.Title,
		Description:        external.Description,
		Location:           external.Location,
		StartAt:            external.StartAt,
		EndAt:              external.EndAt,
		AllDay:             external.AllDay,
		Category:           "other",
		ExternalEventID:    &remoteID,
		ExternalProvider:   &providerName,
		ConnectedAccountID: &accountID,
		LastSyncedAt:       &now,
	}
	event, err = s.eventRepo.Create(ctx, event)
	if err != nil {
		logger.Warn("SyncService:autoImport:CreateError", "external_event_id", external.ID, "error", err)
		return
	}
	if err := s.externalRepo.SetLinkedEvent(ctx, external.ID, &event.ID); err != nil {
		logger.Warn("SyncService:autoImport:LinkError", "external_event_id", external.ID, "error", err)
	}
}

func (s *syncService) ListExternalEvents(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]dto.ExternalEventResponse, *errors.AppError) {
	events, err := s.externalRepo.ListByUserAndRange(ctx, userID, from, to)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list external events", err)
	}
	out := make([]dto.ExternalEventResponse, 0, len(events))
	for i := range events {
		e := &events[i]
		out = append(out, dto.ExternalEventResponse{
			ID:                 e.ID,
			ConnectedAccountID: e.ConnectedAccountID,
			RemoteEventID:      e.RemoteEventID,
			Title:              e.Title,
			Description:        e.Description,
			Location:           e.Location,
			StartAt:            e.StartAt,
			EndAt:              e.EndAt,
			AllDay:             e.AllDay,
			Status:             e.Status,
			LinkedEventID:      e.LinkedEventID,
		})
	}
	return out, nil
}

func remoteToExternal(accountID uuid.UUID, item provider.RemoteEvent) *entity.ExternalEvent {
	status := item.Status
	switch status {
	case entity.StatusConfirmed, entity.StatusTentative, entity.StatusCancelled:
	default:
		status = entity.StatusConfirmed
	}
	return &entity.ExternalEvent{
		ConnectedAccountID: accountID,
		RemoteEventID:      item.RemoteID,
		Title:              item.Title,
		Description:        item.Description,
		Location:           item.Location,
		StartAt:            item.StartAt,
		EndAt:              item.EndAt,
		AllDay:             item.AllDay,
		Status:             status,
		Metadata:           types.JSONText(item.Raw),
		RemoteUpdatedAt:    item.UpdatedAt,
	}
}
