package service

import (
	"context"
	"strings"
	"testing"

	"orbyt-api/core/errors"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"

	"github.com/google/uuid"
)

type connectionFixture struct {
	svc          ConnectionService
	adapter      *fakeAdapter
	accountRepo  *fakeAccountRepo
	externalRepo *fakeExternalRepo
	webhookRepo  *fakeWebhookRepo
	eventRepo    *fakeEventRepo
	vault        *vault.Vault
	userID       uuid.UUID
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()
	v := newTestVault(t)
	adapter := newFakeAdapter("google")
	registry := provider.NewRegistry(adapter)

	accountRepo := newFakeAccountRepo()
	externalRepo := newFakeExternalRepo()
	webhookRepo := newFakeWebhookRepo()
	eventRepo := newFakeEventRepo()

	tokens := NewTokenManager(accountRepo, v, registry)
	svc := NewConnectionService(accountRepo, externalRepo, webhookRepo, eventRepo, registry, v, tokens)

	return &connectionFixture{
		svc:          svc,
		adapter:      adapter,
		accountRepo:  accountRepo,
		externalRepo: externalRepo,
		webhookRepo:  webhookRepo,
		eventRepo:    eventRepo,
		vault:        v,
		userID:       uuid.New(),
	}
}

func TestAuthorizationURLCarriesSignedState(t *testing.T) {
	f := newConnectionFixture(t)

	resp, appErr := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	if appErr != nil {
		t.Fatalf("GetAuthorizationURL: %v", appErr)
	}
	if !strings.Contains(resp.URL, resp.State) {
		t.Error("auth URL does not embed the state token")
	}
	if err := f.vault.VerifyState(resp.State); err != nil {
		t.Errorf("state does not verify: %v", err)
	}
	if !strings.HasPrefix(resp.State, f.userID.String()+":") {
		t.Error("state does not embed the requesting user")
	}
}

func TestHandleCallbackRejectsTamperedState(t *testing.T) {
	f := newConnectionFixture(t)

	resp, _ := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	tampered := resp.State[:len(resp.State)-2] + "xx"

	_, appErr := f.svc.HandleCallback(context.Background(), "google", tampered, "code-1")
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Fatalf("got %v, want INVALID_INPUT", appErr)
	}
	if len(f.accountRepo.accounts) != 0 {
		t.Error("tampered state must not produce a database write")
	}
}

func TestHandleCallbackUpsertIsIdempotent(t *testing.T) {
	f := newConnectionFixture(t)

	state, _ := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	if _, appErr := f.svc.HandleCallback(context.Background(), "google", state.State, "code-1"); appErr != nil {
		t.Fatalf("first callback: %v", appErr)
	}

	// Reconnect with a fresh grant for the same provider account.
	state2, _ := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	if _, appErr := f.svc.HandleCallback(context.Background(), "google", state2.State, "code-2"); appErr != nil {
		t.Fatalf("second callback: %v", appErr)
	}

	if len(f.accountRepo.accounts) != 1 {
		t.Fatalf("accounts = %d, want 1 after reconnect", len(f.accountRepo.accounts))
	}
	for _, account := range f.accountRepo.accounts {
		refresh, err := f.vault.Decrypt(account.RefreshToken)
		if err != nil {
			t.Fatalf("stored refresh token does not decrypt: %v", err)
		}
		if refresh != "refresh-code-2" {
			t.Errorf("refresh token = %q, want the reconnect's token", refresh)
		}
		if account.AccessToken == "access-code-2" {
			t.Error("access token stored in plaintext")
		}
	}
}

func TestHandleCallbackRequiresRefreshToken(t *testing.T) {
	f := newConnectionFixture(t)
	f.adapter.exchangeFn = func(code string) (*provider.Token, error) {
		return &provider.Token{AccessToken: "access-only"}, nil
	}

	state, _ := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	_, appErr := f.svc.HandleCallback(context.Background(), "google", state.State, "code-1")
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Fatalf("got %v, want INVALID_INPUT for a grant without refresh token", appErr)
	}
	if len(f.accountRepo.accounts) != 0 {
		t.Error("refresh-token-less grant must not be stored")
	}
}

func TestListAccountsNeverExposesTokens(t *testing.T) {
	f := newConnectionFixture(t)
	state, _ := f.svc.GetAuthorizationURL(context.Background(), f.userID, "google")
	if _, appErr := f.svc.HandleCallback(context.Background(), "google", state.State, "code-1"); appErr != nil {
		t.Fatalf("callback: %v", appErr)
	}

	accounts, appErr := f.svc.ListAccounts(context.Background(), f.userID)
	if appErr != nil {
		t.Fatalf("ListAccounts: %v", appErr)
	}
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(accounts))
	}
	if accounts[0].Email != "family@example.com" || accounts[0].Provider != "google" {
		t.Errorf("unexpected response %+v", accounts[0])
	}
}

func TestDisconnectCleansUpDespiteRemoteFailure(t *testing.T) {
	f := newConnectionFixture(t)
	v := f.vault

	account := f.accountRepo.add(&entity.ConnectedAccount{
		UserID:       f.userID,
		Provider:     "google",
		RefreshToken: encrypt(t, v, "refresh-plain"),
		IsActive:     true,
	})
	f.webhookRepo.add(&entity.WebhookSubscription{
		ConnectedAccountID: account.ID,
		Provider:           "google",
		ChannelID:          "chan-1",
		IsActive:           true,
	})
	f.externalRepo.Upsert(context.Background(), &entity.ExternalEvent{
		ConnectedAccountID: account.ID,
		RemoteEventID:      "ev-1",
		Status:             entity.StatusConfirmed,
	})
	f.adapter.stopErr = errTestBoom

	if appErr := f.svc.Disconnect(context.Background(), f.userID, account.ID); appErr != nil {
		t.Fatalf("Disconnect must not fail on remote teardown errors: %v", appErr)
	}

	if account.IsActive {
		t.Error("account still active after disconnect")
	}
	if account.AccessToken != "" || account.RefreshToken != "" {
		t.Error("credentials not wiped on disconnect")
	}
	if got, _ := f.externalRepo.GetByAccountAndRemoteID(context.Background(), account.ID, "ev-1"); got != nil {
		t.Error("external events not deleted on disconnect")
	}
	if sub, _ := f.webhookRepo.GetByAccount(context.Background(), account.ID); sub != nil {
		t.Error("webhook subscription still active after disconnect")
	}
}

func TestCheckScopesReportsWriteCapability(t *testing.T) {
	f := newConnectionFixture(t)
	account := f.accountRepo.add(&entity.ConnectedAccount{
		UserID:   f.userID,
		Provider: "google",
		Scopes:   "calendar.write",
		IsActive: true,
	})

	resp, appErr := f.svc.CheckScopes(context.Background(), f.userID, account.ID)
	if appErr != nil {
		t.Fatalf("CheckScopes: %v", appErr)
	}
	if !resp.CanWrite {
		t.Error("CanWrite = false for a write-scoped account")
	}

	account.Scopes = "calendar.readonly"
	resp, _ = f.svc.CheckScopes(context.Background(), f.userID, account.ID)
	if resp.CanWrite {
		t.Error("CanWrite = true for a read-only account")
	}
}
