package service

import (
	"context"
	"time"

	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/repository"
	eventrepo "orbyt-api/modules/event/repository"

	"github.com/google/uuid"
)

type LinkService interface {
	Link(ctx context.Context, userID, eventID, externalEventID uuid.UUID) *errors.AppError
	Unlink(ctx context.Context, userID, eventID uuid.UUID) *errors.AppError
}

type linkService struct {
	accountRepo   repository.AccountRepository
	externalRepo  repository.ExternalEventRepository
	eventRepo     eventrepo.EventRepository
	householdRepo eventrepo.HouseholdRepository
}

func NewLinkService(
	accountRepo repository.AccountRepository,
	externalRepo repository.ExternalEventRepository,
	eventRepo eventrepo.EventRepository,
	householdRepo eventrepo.HouseholdRepository,
) LinkService {
	return &linkService{
		accountRepo:   accountRepo,
		externalRepo:  externalRepo,
		eventRepo:     eventRepo,
		householdRepo: householdRepo,
	}
}

// Link pairs a household event with a mirrored external event, setting the
// pointer on both sides. Never touches the remote provider.
func (s *linkService) Link(ctx context.Context, userID, eventID, externalEventID uuid.UUID) *errors.AppError {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}

	member, err := s.householdRepo.IsMember(ctx, userID, event.HouseholdID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to check household membership", err)
	}
	if !member {
		return errors.NewAppError(errors.ErrForbidden, "not a member of the event's household", nil)
	}

	external, err := s.externalRepo.GetByID(ctx, externalEventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load external event", err)
	}
	if external == nil {
		return errors.NewAppError(errors.ErrNotFound, "external event not found", nil)
	}

	account, err := s.accountRepo.GetByIDForUser(ctx, external.ConnectedAccountID, userID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil {
		return errors.NewAppError(errors.ErrForbidden, "external event belongs to another user", nil)
	}

	now := time.Now()
	if err := s.eventRepo.SetExternalLink(ctx, eventID, external.RemoteEventID, account.Provider, account.ID, now); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to set event link", err)
	}
	if err := s.externalRepo.SetLinkedEvent(ctx, externalEventID, &eventID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to set external event link", err)
	}

	logger.Info("LinkService:Link:Done", "event_id", eventID, "external_event_id", externalEventID)
	return nil
}

// Unlink clears both directions explicitly. The external rows pointing at
// the event are cleared by query rather than via the event's own pointer,
// since the two sides can drift apart.
func (s *linkService) Unlink(ctx context.Context, userID, eventID uuid.UUID) *errors.AppError {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}

	member, err := s.householdRepo.IsMember(ctx, userID, event.HouseholdID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to check household membership", err)
	}
	if !member {
		return errors.NewAppError(errors.ErrForbidden, "not a member of the event's household", nil)
	}

	if err := s.eventRepo.ClearExternalLink(ctx, eventID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to clear event link", err)
	}
	if err := s.externalRepo.ClearLinkForEvent(ctx, eventID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to clear external event link", err)
	}
	return nil
}
