package service

import (
	"context"
	"time"

	"orbyt-api/core/constants"
	"orbyt-api/core/errors"
	"orbyt-api/core/logger"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	"orbyt-api/modules/calendar/repository"
)

// TokenManager centralizes the refresh-before-call dance shared by every
// service that talks to a provider.
type TokenManager struct {
	accountRepo repository.AccountRepository
	vault       *vault.Vault
	providers   *provider.Registry
}

func NewTokenManager(accountRepo repository.AccountRepository, v *vault.Vault, providers *provider.Registry) *TokenManager {
	return &TokenManager{
		accountRepo: accountRepo,
		vault:       v,
		providers:   providers,
	}
}

// EnsureAccessToken returns a usable access token for the account: the
// stored one while it is comfortably within its lifetime, otherwise a fresh
// one from the refresh grant, persisting the rotated pair before returning.
func (m *TokenManager) EnsureAccessToken(ctx context.Context, account *entity.ConnectedAccount) (string, *errors.AppError) {
	adapter := m.providers.For(account.Provider)
	if adapter == nil {
		return "", errors.NewAppError(errors.ErrConfiguration, "provider not configured: "+account.Provider, nil)
	}

	if account.AccessToken != "" && time.Until(account.TokenExpiresAt) > constants.TokenRefreshSkew {
		accessToken, err := m.vault.Decrypt(account.AccessToken)
		if err == nil {
			return accessToken, nil
		}
		// Fall through to a refresh; the stored ciphertext is unusable.
		logger.Warn("TokenManager:EnsureAccessToken:DecryptError", "error", err, "account_id", account.ID)
	}

	if account.RefreshToken == "" {
		return "", errors.NewAppError(errors.ErrUnauthorized, "account has no refresh token; reconnect required", nil)
	}
	refreshToken, err := m.vault.Decrypt(account.RefreshToken)
	if err != nil {
		logger.Error("TokenManager:EnsureAccessToken:DecryptError", "error", err, "account_id", account.ID)
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to decrypt credentials", err)
	}

	token, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		if err == provider.ErrAuthExpired {
			return "", errors.NewAppError(errors.ErrUnauthorized, "provider authorization expired; reconnect required", err)
		}
		logger.Error("TokenManager:EnsureAccessToken:RefreshError", "error", err, "account_id", account.ID)
		return "", errors.NewAppError(errors.ErrRemoteProvider, "token refresh failed", err)
	}

	encAccess, err := m.vault.Encrypt(token.AccessToken)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to encrypt credentials", err)
	}
	encRefresh, err := m.vault.Encrypt(token.RefreshToken)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to encrypt credentials", err)
	}

	// Persist immediately: providers that rotate refresh tokens invalidate
	// the old one on use.
	if err := m.accountRepo.UpdateTokens(ctx, account.ID, encAccess, encRefresh, token.ExpiresAt); err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to persist refreshed tokens", err)
	}
	account.AccessToken = encAccess
	account.RefreshToken = encRefresh
	account.TokenExpiresAt = token.ExpiresAt

	return token.AccessToken, nil
}
