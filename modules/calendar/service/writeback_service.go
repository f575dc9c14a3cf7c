package service

import (
	"context"
	"strings"
	"time"

	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"
	evententity "orbyt-api/modules/event/entity"
	eventrepo "orbyt-api/modules/event/repository"

	"github.com/google/uuid"
)

type WriteBackService interface {
	// WriteBack fans a local event mutation out to every write-capable
	// connected account of the user. Per-account failures are logged and
	// skipped; the call itself never fails.
	WriteBack(ctx context.Context, userID, eventID uuid.UUID, action provider.Action)
	// PushEvent re-pushes one event to one named account synchronously,
	// surfacing that account's error to the caller.
	PushEvent(ctx context.Context, userID, eventID, accountID uuid.UUID) *errors.AppError
}

type writeBackService struct {
	accountRepo repository.AccountRepository
	eventRepo   eventrepo.EventRepository
	providers   *provider.Registry
	tokens      *TokenManager
}

func NewWriteBackService(
	accountRepo repository.AccountRepository,
	eventRepo eventrepo.EventRepository,
	providers *provider.Registry,
	tokens *TokenManager,
) WriteBackService {
	return &writeBackService{
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		providers:   providers,
		tokens:      tokens,
	}
}

func (s *writeBackService) WriteBack(ctx context.Context, userID, eventID uuid.UUID, action provider.Action) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil || event == nil {
		logger.Warn("WriteBackService:WriteBack:EventMissing", "event_id", eventID)
		return
	}

	accounts, err := s.accountRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		logger.Error("WriteBackService:WriteBack:ListError", "error", err, "user_id", userID)
		return
	}

	for i := range accounts {
		account := &accounts[i]
		if appErr := s.pushToAccount(ctx, account, event, action); appErr != nil {
			logger.Warn("WriteBackService:WriteBack:AccountFailed",
				"account_id", account.ID,
				"provider", account.Provider,
				"event_id", eventID,
				"error", appErr,
			)
		}
	}
}

func (s *writeBackService) PushEvent(ctx context.Context, userID, eventID, accountID uuid.UUID) *errors.AppError {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}

	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil || !account.IsActive {
		return errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}

	action := provider.ActionCreate
	if event.ExternalEventID != nil && event.ConnectedAccountID != nil && *event.ConnectedAccountID == accountID {
		action = provider.ActionUpdate
	}
	return s.pushToAccount(ctx, account, event, action)
}

// pushToAccount performs one account's share of a fan-out. Updates and
// deletes only apply to the account the event is linked to; for any other
// account they are a silent no-op. Creates stamp the local event with the
// remote id once the provider accepts the write. The remote id, once known,
// is authoritative; the local event id travels in the payload so a sync can
// reattach the remote copy if this process dies before the stamp lands.
func (s *writeBackService) pushToAccount(ctx context.Context, account *entity.ConnectedAccount, event *evententity.Event, action provider.Action) *errors.AppError {
	adapter := s.providers.For(account.Provider)
	if adapter == nil {
		return errors.NewAppError(errors.ErrConfiguration, "provider not configured: "+account.Provider, nil)
	}
	if !strings.Contains(account.Scopes, adapter.WriteScope()) {
		return nil
	}

	remoteID := ""
	if action != provider.ActionCreate {
		if event.ConnectedAccountID == nil || *event.ConnectedAccountID != account.ID || event.ExternalEventID == nil {
			return nil
		}
		remoteID = *event.ExternalEventID
	}

	accessToken, appErr := s.tokens.EnsureAccessToken(ctx, account)
	if appErr != nil {
		return appErr
	}

	payload := provider.EventPayload{
		RemoteID:      remoteID,
		SourceEventID: event.ID.String(),
		Title:         event.Title,
		Description:   event.Description,
		Location:      event.Location,
		StartAt:       event.StartAt,
		EndAt:         event.EndAt,
		AllDay:        event.AllDay,
	}
	newRemoteID, err := adapter.WriteEvent(ctx, accessToken, action, payload)
	if err != nil {
		return errors.NewAppError(errors.ErrRemoteProvider, "remote event write failed", err)
	}

	now := time.Now()
	switch action {
	case provider.ActionCreate:
		if err := s.eventRepo.SetExternalLink(ctx, event.ID, newRemoteID, account.Provider, account.ID, now); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to stamp remote id", err)
		}
	case provider.ActionUpdate:
		if err := s.eventRepo.StampSynced(ctx, event.ID, now); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to stamp sync time", err)
		}
	case provider.ActionDelete:
		if err := s.eventRepo.ClearExternalLink(ctx, event.ID); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to clear remote link", err)
		}
	}
	return nil
}
