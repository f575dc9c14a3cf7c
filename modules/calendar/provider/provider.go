package provider

import (
	"context"
	"errors"
	"time"
)

// ErrAuthExpired signals the provider rejected the account's credentials and
// a refresh will not help; the user has to reconnect.
var ErrAuthExpired = errors.New("provider authorization expired")

// Token is a decrypted OAuth token set as returned by a provider. Scope is
// the space-separated grant reported by the token endpoint, when present.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// RemoteAccount identifies the provider-side account behind a token.
type RemoteAccount struct {
	ID    string
	Email string
}

// RemoteEvent is one event as reported by a provider, normalized to the
// shape the sync engine stores. SourceEventID carries back the local event
// id stamped into provider metadata when our own write-back created the
// remote copy; it is empty for events that originated at the provider.
type RemoteEvent struct {
	RemoteID      string
	SourceEventID string
	Title         string
	Description   *string
	Location      *string
	StartAt       time.Time
	EndAt         time.Time
	AllDay        bool
	Status        string
	UpdatedAt     time.Time
	Cancelled     bool
	Raw           []byte
}

// ChangeSet is the result of one ListChanges call. CursorExpired reports
// that the provider refused the supplied cursor and the caller must retry
// with an empty cursor.
type ChangeSet struct {
	Items         []RemoteEvent
	NextCursor    string
	CursorExpired bool
}

// Window bounds a full sync.
type Window struct {
	From time.Time
	To   time.Time
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EventPayload carries a local event to a provider write call. RemoteID is
// empty for creates and required for updates and deletes. SourceEventID is
// the local event id; adapters stamp it into provider metadata on create so
// a later sync can recognize the remote copy as our own write.
type EventPayload struct {
	RemoteID      string
	SourceEventID string
	Title         string
	Description   *string
	Location      *string
	StartAt       time.Time
	EndAt         time.Time
	AllDay        bool
}

// Subscription describes a push channel established with a provider.
type Subscription struct {
	ChannelID  string
	ResourceID string
	ExpiresAt  time.Time
}

// Adapter is the per-provider surface the sync subsystem talks through.
// Implementations are stateless aside from their OAuth client config; token
// material is passed per call.
type Adapter interface {
	Provider() string
	Configured() bool

	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Token, error)
	AccountInfo(ctx context.Context, accessToken string) (*RemoteAccount, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)

	// ListChanges runs incremental sync when cursor is non-empty and a
	// full window sync otherwise.
	ListChanges(ctx context.Context, accessToken, cursor string, window Window) (*ChangeSet, error)

	// WriteEvent returns the remote event id for creates; updates and
	// deletes return the id they were given.
	WriteEvent(ctx context.Context, accessToken string, action Action, payload EventPayload) (string, error)

	Watch(ctx context.Context, accessToken, callbackURL string) (*Subscription, error)
	StopWatch(ctx context.Context, accessToken string, sub Subscription) error

	// WriteScope is the OAuth scope required for write-back.
	WriteScope() string
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// For returns the adapter for the named provider, or nil when the provider
// is unknown or not configured.
func (r *Registry) For(name string) Adapter {
	a, ok := r.adapters[name]
	if !ok || !a.Configured() {
		return nil
	}
	return a
}
