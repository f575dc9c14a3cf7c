package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	coreentity "orbyt-api/core/entity"
	"orbyt-api/core/vault"
	"orbyt-api/modules/calendar/entity"
	"orbyt-api/modules/calendar/provider"
	evententity "orbyt-api/modules/event/entity"

	"github.com/google/uuid"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var errTestBoom = errors.New("boom")

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func encrypt(t *testing.T, v *vault.Vault, plaintext string) string {
	t.Helper()
	out, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return out
}

// --- account repository fake ---

type fakeAccountRepo struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*entity.ConnectedAccount
	clearedCursor int
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[uuid.UUID]*entity.ConnectedAccount{}}
}

func (r *fakeAccountRepo) add(account *entity.ConnectedAccount) *entity.ConnectedAccount {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	r.accounts[account.ID] = account
	return account
}

func (r *fakeAccountRepo) Upsert(ctx context.Context, account *entity.ConnectedAccount) (*entity.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.UserID == account.UserID && existing.Provider == account.Provider && existing.ProviderAccountID == account.ProviderAccountID {
			existing.Email = account.Email
			existing.AccessToken = account.AccessToken
			existing.RefreshToken = account.RefreshToken
			existing.TokenExpiresAt = account.TokenExpiresAt
			existing.Scopes = account.Scopes
			existing.IsActive = true
			existing.SyncError = nil
			*account = *existing
			return existing, nil
		}
	}
	account.ID = uuid.New()
	account.CreatedAt = time.Now()
	r.accounts[account.ID] = account
	return account, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*entity.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	if account == nil || account.UserID != userID {
		return nil, nil
	}
	return account, nil
}

func (r *fakeAccountRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]entity.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ConnectedAccount
	for _, account := range r.accounts {
		if account.UserID == userID && account.IsActive {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account := r.accounts[id]; account != nil {
		account.AccessToken = accessToken
		account.RefreshToken = refreshToken
		account.TokenExpiresAt = expiresAt
	}
	return nil
}

func (r *fakeAccountRepo) RecordSyncSuccess(ctx context.Context, id uuid.UUID, providerName, cursor string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	if account == nil {
		return errors.New("no such account")
	}
	if providerName == "outlook" {
		account.DeltaLink = &cursor
	} else {
		account.SyncToken = &cursor
	}
	account.LastSyncedAt = &syncedAt
	account.SyncError = nil
	return nil
}

func (r *fakeAccountRepo) RecordSyncError(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account := r.accounts[id]; account != nil {
		account.SyncError = &message
	}
	return nil
}

func (r *fakeAccountRepo) ClearCursor(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearedCursor++
	if account := r.accounts[id]; account != nil {
		account.SyncToken = nil
		account.DeltaLink = nil
	}
	return nil
}

func (r *fakeAccountRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account := r.accounts[id]; account != nil {
		account.IsActive = false
	}
	return nil
}

// --- external event repository fake ---

type fakeExternalRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*entity.ExternalEvent
}

func newFakeExternalRepo() *fakeExternalRepo {
	return &fakeExternalRepo{events: map[uuid.UUID]*entity.ExternalEvent{}}
}

func (r *fakeExternalRepo) find(accountID uuid.UUID, remoteID string) *entity.ExternalEvent {
	for _, e := range r.events {
		if e.ConnectedAccountID == accountID && e.RemoteEventID == remoteID {
			return e
		}
	}
	return nil
}

func (r *fakeExternalRepo) Upsert(ctx context.Context, event *entity.ExternalEvent) (*entity.ExternalEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.find(event.ConnectedAccountID, event.RemoteEventID); existing != nil {
		id, linked := existing.ID, existing.LinkedEventID
		*existing = *event
		existing.ID = id
		existing.LinkedEventID = linked
		*event = *existing
		return existing, nil
	}
	event.ID = uuid.New()
	r.events[event.ID] = event
	return event, nil
}

func (r *fakeExternalRepo) MarkCancelled(ctx context.Context, accountID uuid.UUID, remoteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.find(accountID, remoteID); e != nil {
		e.Status = entity.StatusCancelled
	}
	return nil
}

func (r *fakeExternalRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id], nil
}

func (r *fakeExternalRepo) GetByAccountAndRemoteID(ctx context.Context, accountID uuid.UUID, remoteID string) (*entity.ExternalEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(accountID, remoteID), nil
}

func (r *fakeExternalRepo) ListByUserAndRange(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]entity.ExternalEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ExternalEvent
	for _, e := range r.events {
		if e.StartAt.Before(to) && e.EndAt.After(from) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeExternalRepo) SetLinkedEvent(ctx context.Context, id uuid.UUID, eventID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.events[id]; e != nil {
		e.LinkedEventID = eventID
	}
	return nil
}

func (r *fakeExternalRepo) ClearLinkForEvent(ctx context.Context, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.LinkedEventID != nil && *e.LinkedEventID == eventID {
			e.LinkedEventID = nil
		}
	}
	return nil
}

func (r *fakeExternalRepo) DeleteByAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.events {
		if e.ConnectedAccountID == accountID {
			delete(r.events, id)
		}
	}
	return nil
}

// --- webhook repository fake ---

type fakeWebhookRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*entity.WebhookSubscription
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{subs: map[uuid.UUID]*entity.WebhookSubscription{}}
}

func (r *fakeWebhookRepo) add(sub *entity.WebhookSubscription) *entity.WebhookSubscription {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	r.subs[sub.ID] = sub
	return sub
}

func (r *fakeWebhookRepo) Upsert(ctx context.Context, sub *entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.ConnectedAccountID == sub.ConnectedAccountID && existing.Provider == sub.Provider {
			id := existing.ID
			*existing = *sub
			existing.ID = id
			existing.IsActive = true
			*sub = *existing
			return existing, nil
		}
	}
	sub.ID = uuid.New()
	sub.IsActive = true
	r.subs[sub.ID] = sub
	return sub, nil
}

func (r *fakeWebhookRepo) GetByAccount(ctx context.Context, accountID uuid.UUID) (*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ConnectedAccountID == accountID && sub.IsActive {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *fakeWebhookRepo) GetByChannelID(ctx context.Context, channelID string) (*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ChannelID == channelID && sub.IsActive {
			return sub, nil
		}
	}
	return nil, nil
}

func (r *fakeWebhookRepo) ListExpiring(ctx context.Context, before time.Time) ([]entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.WebhookSubscription
	for _, sub := range r.subs {
		if sub.IsActive && !sub.ExpiresAt.After(before) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeWebhookRepo) MarkInactive(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub := r.subs[id]; sub != nil {
		sub.IsActive = false
	}
	return nil
}

func (r *fakeWebhookRepo) DeactivateByAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ConnectedAccountID == accountID {
			sub.IsActive = false
		}
	}
	return nil
}

// --- event + household repository fakes ---

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*evententity.Event

	createErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[uuid.UUID]*evententity.Event{}}
}

func (r *fakeEventRepo) add(event *evententity.Event) *evententity.Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	r.events[event.ID] = event
	return event
}

func (r *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*evententity.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id], nil
}

func (r *fakeEventRepo) Create(ctx context.Context, event *evententity.Event) (*evententity.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	event.BaseEntity = coreentity.BaseEntity{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.events[event.ID] = event
	return event, nil
}

func (r *fakeEventRepo) SetExternalLink(ctx context.Context, eventID uuid.UUID, remoteID, providerName string, accountID uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event := r.events[eventID]
	if event == nil {
		return errors.New("no such event")
	}
	event.ExternalEventID = &remoteID
	event.ExternalProvider = &providerName
	event.ConnectedAccountID = &accountID
	event.LastSyncedAt = &syncedAt
	return nil
}

func (r *fakeEventRepo) ClearExternalLink(ctx context.Context, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event := r.events[eventID]; event != nil {
		event.ExternalEventID = nil
		event.ExternalProvider = nil
		event.ConnectedAccountID = nil
	}
	return nil
}

func (r *fakeEventRepo) ClearExternalLinksByAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ConnectedAccountID != nil && *event.ConnectedAccountID == accountID {
			event.ExternalEventID = nil
			event.ExternalProvider = nil
			event.ConnectedAccountID = nil
		}
	}
	return nil
}

func (r *fakeEventRepo) StampSynced(ctx context.Context, eventID uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event := r.events[eventID]; event != nil {
		event.LastSyncedAt = &syncedAt
	}
	return nil
}

type fakeHouseholdRepo struct {
	households map[uuid.UUID]uuid.UUID // user -> default household
	members    map[uuid.UUID][]uuid.UUID
}

func newFakeHouseholdRepo() *fakeHouseholdRepo {
	return &fakeHouseholdRepo{
		households: map[uuid.UUID]uuid.UUID{},
		members:    map[uuid.UUID][]uuid.UUID{},
	}
}

func (r *fakeHouseholdRepo) IsMember(ctx context.Context, userID, householdID uuid.UUID) (bool, error) {
	for _, h := range r.members[userID] {
		if h == householdID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeHouseholdRepo) DefaultHouseholdID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if h, ok := r.households[userID]; ok {
		return h, nil
	}
	return uuid.Nil, errors.New("no household membership")
}

// --- provider adapter fake ---

type fakeAdapter struct {
	name string

	exchangeFn func(code string) (*provider.Token, error)
	listFn     func(cursor string) (*provider.ChangeSet, error)
	writeFn    func(action provider.Action, payload provider.EventPayload) (string, error)
	watchFn    func(callbackURL string) (*provider.Subscription, error)
	stopErr    error
	refreshErr error

	refreshCalls int
	stopCalls    int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func (a *fakeAdapter) Provider() string   { return a.name }
func (a *fakeAdapter) Configured() bool   { return true }
func (a *fakeAdapter) WriteScope() string { return "calendar.write" }
func (a *fakeAdapter) AuthCodeURL(state string) string {
	return "https://auth.example/consent?state=" + state
}

func (a *fakeAdapter) Exchange(ctx context.Context, code string) (*provider.Token, error) {
	if a.exchangeFn != nil {
		return a.exchangeFn(code)
	}
	return &provider.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
		Scope:        "calendar.write",
	}, nil
}

func (a *fakeAdapter) AccountInfo(ctx context.Context, accessToken string) (*provider.RemoteAccount, error) {
	return &provider.RemoteAccount{ID: "remote-account-1", Email: "family@example.com"}, nil
}

func (a *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	a.refreshCalls++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return &provider.Token{
		AccessToken:  "fresh-access",
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (a *fakeAdapter) ListChanges(ctx context.Context, accessToken, cursor string, window provider.Window) (*provider.ChangeSet, error) {
	if a.listFn != nil {
		return a.listFn(cursor)
	}
	return &provider.ChangeSet{NextCursor: "cursor-1"}, nil
}

func (a *fakeAdapter) WriteEvent(ctx context.Context, accessToken string, action provider.Action, payload provider.EventPayload) (string, error) {
	if a.writeFn != nil {
		return a.writeFn(action, payload)
	}
	return "remote-new", nil
}

func (a *fakeAdapter) Watch(ctx context.Context, accessToken, callbackURL string) (*provider.Subscription, error) {
	if a.watchFn != nil {
		return a.watchFn(callbackURL)
	}
	return &provider.Subscription{ChannelID: "channel-1", ResourceID: "res-1", ExpiresAt: time.Now().Add(72 * time.Hour)}, nil
}

func (a *fakeAdapter) StopWatch(ctx context.Context, accessToken string, sub provider.Subscription) error {
	a.stopCalls++
	return a.stopErr
}
