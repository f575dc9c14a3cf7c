package service

import (
	"context"
	"strings"
	"time"

	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar/dto"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"
	eventrepo "orbyt-api/modules/event/repository"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type ConnectionService interface {
	GetAuthorizationURL(ctx context.Context, userID uuid.UUID, providerName string) (*dto.AuthURLResponse, *errors.AppError)
	HandleCallback(ctx context.Context, providerName, state, code string) (*dto.ConnectedAccountResponse, *errors.AppError)
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]dto.ConnectedAccountResponse, *errors.AppError)
	Disconnect(ctx context.Context, userID, accountID uuid.UUID) *errors.AppError
	CheckScopes(ctx context.Context, userID, accountID uuid.UUID) (*dto.ScopesResponse, *errors.AppError)
}

type connectionService struct {
	accountRepo  repository.AccountRepository
	externalRepo repository.ExternalEventRepository
	webhookRepo  repository.WebhookRepository
	eventRepo    eventrepo.EventRepository
	providers    *provider.Registry
	vault        *vault.Vault
	tokens       *TokenManager
}

func NewConnectionService(
	accountRepo repository.AccountRepository,
	externalRepo repository.ExternalEventRepository,
	webhookRepo repository.WebhookRepository,
	eventRepo eventrepo.EventRepository,
	providers *provider.Registry,
	v *vault.Vault,
	tokens *TokenManager,
) ConnectionService {
	return &connectionService{
		accountRepo:  accountRepo,
		externalRepo: externalRepo,
		webhookRepo:  webhookRepo,
		eventRepo:    eventRepo,
		providers:    providers,
		vault:        v,
		tokens:       tokens,
	}
}

// GetAuthorizationURL builds the provider consent URL. The state token
// embeds the requesting user so the public callback can attribute the grant,
// and is HMAC-signed so it cannot be forged or redirected to another user.
func (s *connectionService) GetAuthorizationURL(ctx context.Context, userID uuid.UUID, providerName string) (*dto.AuthURLResponse, *errors.AppError) {
	adapter := s.providers.For(providerName)
	if adapter == nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown or unconfigured provider: "+providerName, nil)
	}

	nonce, err := gonanoid.New(21)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to generate state nonce", err)
	}
	state := s.vault.SignState(userID.String() + ":" + nonce)

	return &dto.AuthURLResponse{
		URL:   adapter.AuthCodeURL(state),
		State: state,
	}, nil
}

// HandleCallback finishes the OAuth dance: verify state, exchange the code,
// resolve the remote account, and store encrypted credentials. Reconnecting
// the same provider account updates the existing row instead of duplicating.
func (s *connectionService) HandleCallback(ctx context.Context, providerName, state, code string) (*dto.ConnectedAccountResponse, *errors.AppError) {
	adapter := s.providers.For(providerName)
	if adapter == nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown or unconfigured provider: "+providerName, nil)
	}
	if code == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "missing authorization code", nil)
	}

	userID, appErr := s.userFromState(state)
	if appErr != nil {
		return nil, appErr
	}

	token, err := adapter.Exchange(ctx, code)
	if err != nil {
		logger.Error("ConnectionService:HandleCallback:ExchangeError", "error", err, "provider", providerName)
		return nil, errors.NewAppError(errors.ErrRemoteProvider, "authorization code exchange failed", err)
	}
	if token.RefreshToken == "" {
		// Without a refresh token the connection dies with the first
		// access token; refuse it so the user can re-consent.
		return nil, errors.NewAppError(errors.ErrInvalidInput, "provider did not return a refresh token; revoke prior access and reconnect", nil)
	}

	remote, err := adapter.AccountInfo(ctx, token.AccessToken)
	if err != nil {
		logger.Error("ConnectionService:HandleCallback:AccountInfoError", "error", err, "provider", providerName)
		return nil, errors.NewAppError(errors.ErrRemoteProvider, "failed to resolve provider account", err)
	}

	encAccess, err := s.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to encrypt credentials", err)
	}
	encRefresh, err := s.vault.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to encrypt credentials", err)
	}

	scopes := token.Scope
	if scopes == "" {
		scopes = adapter.WriteScope()
	}

	account := &entity.ConnectedAccount{
		UserID:            userID,
		Provider:          providerName,
		ProviderAccountID: remote.ID,
		Email:             remote.Email,
		AccessToken:       encAccess,
		RefreshToken:      encRefresh,
		TokenExpiresAt:    token.ExpiresAt,
		Scopes:            scopes,
		IsActive:          true,
	}
	account, err = s.accountRepo.Upsert(ctx, account)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store connected account", err)
	}

	logger.Info("ConnectionService:HandleCallback:Connected",
		"provider", providerName,
		"account_id", account.ID,
		"email", account.Email,
	)
	resp := toAccountResponse(account)
	return &resp, nil
}

func (s *connectionService) userFromState(state string) (uuid.UUID, *errors.AppError) {
	if err := s.vault.VerifyState(state); err != nil {
		return uuid.Nil, errors.NewAppError(errors.ErrInvalidInput, "invalid state token", err)
	}
	idx := strings.LastIndex(state, ".")
	nonce := state[:idx]
	sep := strings.Index(nonce, ":")
	if sep <= 0 {
		return uuid.Nil, errors.NewAppError(errors.ErrInvalidInput, "invalid state token", nil)
	}
	userID, err := uuid.Parse(nonce[:sep])
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.ErrInvalidInput, "invalid state token", err)
	}
	return userID, nil
}

func (s *connectionService) ListAccounts(ctx context.Context, userID uuid.UUID) ([]dto.ConnectedAccountResponse, *errors.AppError) {
	accounts, err := s.accountRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list connected accounts", err)
	}
	out := make([]dto.ConnectedAccountResponse, 0, len(accounts))
	for i := range accounts {
		out = append(out, toAccountResponse(&accounts[i]))
	}
	return out, nil
}

// Disconnect tears the account down: remote webhook channel stopped on a
// best-effort basis, mirrored events and links removed, credentials wiped.
// Remote teardown failures never block the local cleanup.
func (s *connectionService) Disconnect(ctx context.Context, userID, accountID uuid.UUID) *errors.AppError {
	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil {
		return errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}

	if sub, err := s.webhookRepo.GetByAccount(ctx, accountID); err == nil && sub != nil {
		s.stopRemoteChannel(ctx, account, sub)
	}

	if err := s.webhookRepo.DeactivateByAccount(ctx, accountID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to deactivate webhook subscription", err)
	}
	if err := s.eventRepo.ClearExternalLinksByAccount(ctx, accountID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to detach linked events", err)
	}
	if err := s.externalRepo.DeleteByAccount(ctx, accountID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to remove mirrored events", err)
	}

	// Wipe credential ciphertext before deactivating so a disabled row
	// never retains usable secrets.
	if err := s.accountRepo.UpdateTokens(ctx, accountID, "", "", time.Time{}); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to clear credentials", err)
	}
	if err := s.accountRepo.Deactivate(ctx, accountID); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to deactivate account", err)
	}

	logger.Info("ConnectionService:Disconnect:Done", "account_id", accountID, "provider", account.Provider)
	return nil
}

func (s *connectionService) stopRemoteChannel(ctx context.Context, account *entity.ConnectedAccount, sub *entity.WebhookSubscription) {
	adapter := s.providers.For(account.Provider)
	if adapter == nil {
		return
	}
	accessToken, appErr := s.tokens.EnsureAccessToken(ctx, account)
	if appErr != nil {
		logger.Warn("ConnectionService:stopRemoteChannel:TokenError", "account_id", account.ID, "error", appErr)
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
		logger.Warn("ConnectionService:stopRemoteChannel:StopError", "account_id", account.ID, "error", err)
	}
}

func (s *connectionService) CheckScopes(ctx context.Context, userID, accountID uuid.UUID) (*dto.ScopesResponse, *errors.AppError) {
	account, err := s.accountRepo.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load account", err)
	}
	if account == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connected account not found", nil)
	}

	adapter := s.providers.For(account.Provider)
	canWrite := adapter != nil && strings.Contains(account.Scopes, adapter.WriteScope())
	return &dto.ScopesResponse{
		Provider: account.Provider,
		Scopes:   account.Scopes,
		CanWrite: canWrite,
	}, nil
}

func toAccountResponse(account *entity.ConnectedAccount) dto.ConnectedAccountResponse {
	return dto.ConnectedAccountResponse{
		ID:           account.ID,
		Provider:     account.Provider,
		Email:        account.Email,
		Scopes:       account.Scopes,
		LastSyncedAt: account.LastSyncedAt,
		SyncError:    account.SyncError,
		IsActive:     account.IsActive,
		CreatedAt:    account.CreatedAt,
	}
}
