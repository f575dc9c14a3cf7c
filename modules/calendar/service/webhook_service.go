package service

import (
	"context"
	"fmt"
	"time"

	"orbyt-api/core/constants"
	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"

	"github.com/google/uuid"
)

type WebhookService interface {
	Register(ctx context.Context, userID, accountID uuid.UUID) (*dto.WebhookResponse, *errors.AppError)
	Unregister(ctx context.Context, userID, accountID uuid.UUID) *errors.AppError
	// RenewExpiring replaces every active subscription expiring within the
	// renewal window. Per-subscription failures are collected; the job
	// keeps going.
	RenewExpiring(ctx context.Context) error
}

type webhookService struct {
	accountRepo repository.AccountRepository
	webhookRepo repository.WebhookRepository
	providers   *provider.Registry
	tokens      *TokenManager
	callbackURL func(providerName string) string
}

func NewWebhookService(
	accountRepo repository.AccountRepository,
	webhookRepo repository.WebhookRepository,
	providers *provider.Registry,
	tokens *TokenManager,
	publicBaseURL string,
) WebhookService {
	return &webhookService{
		accountRepo: accountRepo,
		webhookRepo: webhookRepo,
		providers:   providers,
		tokens:      tokens,
		callbackURL: func(providerName string) string {
			name := providerName
			if name == dto.ProviderOutlook {
				name = "microsoft"
			}
			return publicBaseURL + "/webhooks/calendar/" + name
		},
	}
}

func (s *webhookService) Register(ctx context.Context, userID, accountID uuid.UUID) (*dto.WebhookResponse, *errors.AppError) {
	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil || !account.IsActive {
		return nil, errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}
	return s.establish(ctx, account)
}

// establish refreshes the account's token, opens a push channel, and upserts
// the subscription row. Re-registering replaces the prior channel row.
func (s *webhookService) establish(ctx context.Context, account *entity.ConnectedAccount) (*dto.WebhookResponse, *errors.AppError) {
	adapter := s.providers.For(account.Provider)
	if adapter == nil {
		return nil, errors.NewAppError(errors.ErrConfiguration, "provider not configured: "+account.Provider, nil)
	}

	accessToken, appErr := s.tokens.EnsureAccessToken(ctx, account)
	if appErr != nil {
		return nil, appErr
	}

	remote, err := adapter.Watch(ctx, accessToken, s.callbackURL(account.Provider))
	if err != nil {
		logger.Error("WebhookService:establish:WatchError", "error", err, "account_id", account.ID)
		return nil, errors.NewAppError(errors.ErrRemoteProvider, "failed to register webhook channel", err)
	}

	sub := &entity.WebhookSubscription{
		ConnectedAccountID: account.ID,
		Provider:           account.Provider,
		ChannelID:          remote.ChannelID,
		CallbackURL:        s.callbackURL(account.Provider),
		ExpiresAt:          remote.ExpiresAt,
		IsActive:           true,
	}
	if remote.ResourceID != "" {
		rid := remote.ResourceID
		sub.ResourceID = &rid
	}
	if _, err := s.webhookRepo.Upsert(ctx, sub); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store webhook subscription", err)
	}

	logger.Info("WebhookService:establish:Registered",
		"account_id", account.ID,
		"provider", account.Provider,
		"expires_at", remote.ExpiresAt,
	)
	return &dto.WebhookResponse{ChannelID: remote.ChannelID, ExpiresAt: remote.ExpiresAt}, nil
}

// Unregister tears a channel down best-effort remotely and unconditionally
// marks it inactive locally, so a provider outage cannot block a disconnect.
func (s *webhookService) Unregister(ctx context.Context, userID, accountID uuid.UUID) *errors.AppError {
	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil {
		return errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}

	sub, err := s.webhookRepo.GetByAccount(ctx, accountID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load webhook subscription", err)
	}
	if sub == nil {
		return nil
	}

	s.stopRemote(ctx, account, sub)

	if err := s.webhookRepo.MarkInactive(ctx, sub.ID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to deactivate webhook subscription", err)
	}
	return nil
}

func (s *webhookService) stopRemote(ctx context.Context, account *entity.ConnectedAccount, sub *entity.WebhookSubscription) {
	adapter := s.providers.For(account.Provider)
	if adapter == nil {
		return
	}
	accessToken, appErr := s.tokens.EnsureAccessToken(ctx, account)
	if appErr != nil {
		logger.Warn("WebhookService:stopRemote:TokenError", "account_id", account.ID, "error", appErr)
		return
	}
	resourceID := ""
	if sub.ResourceID != nil {
		resourceID = *sub.ResourceID
	}
	if err := adapter.StopWatch(ctx, accessToken, provider.Subscription{
		ChannelID:  sub.ChannelID,
		ResourceID: resourceID,
		ExpiresAt:  sub.ExpiresAt,
	}); err != nil {
		logger.Warn("WebhookService:stopRemote:StopError", "account_id", account.ID, "error", err)
	}
}

func (s *webhookService) RenewExpiring(ctx context.Context) error {
	subs, err := s.webhookRepo.ListExpiring(ctx, time.Now().Add(constants.WebhookRenewalWindow))
	if err != nil {
		return fmt.Errorf("list expiring subscriptions: %w", err)
	}

	var failed []uuid.UUID
	for i := range subs {
		sub := &subs[i]
		if err := s.renewOne(ctx, sub); err != nil {
			logger.Warn("WebhookService:RenewExpiring:Failed",
				"subscription_id", sub.ID,
				"account_id", sub.ConnectedAccountID,
				"error", err,
			)
			failed = append(failed, sub.ID)
		}
	}

	logger.Info("WebhookService:RenewExpiring:Done", "total", len(subs), "failed", len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("renewal failed for %d of %d subscriptions", len(failed), len(subs))
	}
	return nil
}

// renewOne replaces a single channel: stop the old one (ignoring
// already-gone errors inside stopRemote), then establish a fresh one. Each
// attempt is bounded by its own timeout so one hung provider call cannot
// starve the rest of the job. Accounts without a usable refresh token get
// their subscription marked inactive instead of retrying forever.
func (s *webhookService) renewOne(ctx context.Context, sub *entity.WebhookSubscription) error {
	ctx, cancel := context.WithTimeout(ctx, constants.WebhookRenewalTimeout)
	defer cancel()

	account, err := s.accountRepo.GetByID(ctx, sub.ConnectedAccountID)
	if err != nil {
		return err
	}
	if account == nil || !account.IsActive || account.RefreshToken == "" {
		if err := s.webhookRepo.MarkInactive(ctx, sub.ID); err != nil {
			return err
		}
		logger.Info("WebhookService:renewOne:Retired", "subscription_id", sub.ID)
		return nil
	}

	s.stopRemote(ctx, account, sub)

	if _, appErr := s.establish(ctx, account); appErr != nil {
		if appErr.Code == errors.ErrUnauthorized {
			// Dead credentials; retire the channel rather than
			// hammering the provider every cycle.
			return s.webhookRepo.MarkInactive(ctx, sub.ID)
		}
		return appErr
	}
	return nil
}
