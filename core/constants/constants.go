package constants

import "time"

// Database pool settings
const (
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes
	DatabaseSSLMode         = "disable"
)

// Timeouts
const (
	DefaultTimeout        = 10 * time.Second
	RemoteCallTimeout     = 30 * time.Second
	WebhookRenewalTimeout = 30 * time.Second
)

// Calendar sync settings
const (
	SyncCooldown         = time.Minute
	SyncWindowDays       = 90
	TokenRefreshSkew     = 5 * time.Minute
	WebhookRenewalWindow = 24 * time.Hour
	WebhookPingThrottle  = 30 * time.Second
)

// Redis key prefixes
const (
	RedisKeyWebhookPing = "calendar:webhook:ping:"
)

// JWT token scopes
const (
	ScopeTokenAccess  = "access"
	ScopeTokenRefresh = "refresh"
)
