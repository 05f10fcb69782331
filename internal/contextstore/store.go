// Package contextstore persists per-user and per-session conversation state
// for the orchestrator: who the user is, what they said, and what the last
// turn resolved to. Sessions expire after a configurable idle window.
package contextstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested user or session does not exist
// or the session has expired. Expired sessions are indistinguishable from
// absent ones on purpose.
var ErrNotFound = errors.New("context not found")

// Defaults applied when the corresponding option is zero.
const (
	DefaultSessionTTL   = 30 * time.Minute
	DefaultHistoryLimit = 50
)

// Interface kinds a session can be opened from.
const (
	InterfaceVoice  = "voice"
	InterfaceText   = "text"
	InterfaceWeb    = "web"
	InterfaceMobile = "mobile"
)

// UserContext is durable per-user state, persisted across restarts.
type UserContext struct {
	UserID       string            `json:"user_id"`
	Language     string            `json:"language,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
	Location     string            `json:"location,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
}

// SessionContext is one conversation's state. A session is active while
// now − LastAccessed stays under the store's TTL; inactive sessions are not
// returned by lookups and are dropped by cleanup.
type SessionContext struct {
	SessionID       string                       `json:"session_id"`
	UserID          string                       `json:"user_id"`
	InterfaceType   string                       `json:"interface_type"`
	CreatedAt       time.Time                    `json:"created_at"`
	LastAccessed    time.Time                    `json:"last_accessed"`
	CommandHistory  []string                     `json:"command_history"`
	ResponseHistory []string                     `json:"response_history"`
	Variables       map[string]string            `json:"variables,omitempty"`
	LastIntent      string                       `json:"last_intent,omitempty"`
	LastParameters  map[string]string            `json:"last_parameters,omitempty"`
	LastUsedService string                       `json:"last_used_service,omitempty"`
	ServiceState    map[string]map[string]string `json:"service_state,omitempty"`
}

// SessionUpdate is a partial session mutation. Nil pointer fields are left
// untouched; nil maps are left untouched, non-nil maps replace.
type SessionUpdate struct {
	LastIntent      *string
	LastParameters  map[string]string
	LastUsedService *string
	Variables       map[string]string
	ServiceState    map[string]map[string]string
}

// Store is the persistence contract. All implementations must be safe for
// concurrent use; every mutation also touches the session's LastAccessed.
type Store interface {
	// GetUser returns the user, or [ErrNotFound].
	GetUser(ctx context.Context, userID string) (*UserContext, error)

	// PutUser creates or replaces the user and stamps LastActivity.
	PutUser(ctx context.Context, user *UserContext) error

	// CreateSession mints a session with a fresh random id.
	CreateSession(ctx context.Context, userID, interfaceType string) (*SessionContext, error)

	// GetSession returns the session only while it is active, touching
	// LastAccessed. Expired or unknown ids return [ErrNotFound].
	GetSession(ctx context.Context, sessionID string) (*SessionContext, error)

	// UpdateSession applies a partial update. Returns [ErrNotFound] for
	// expired or unknown sessions.
	UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error

	// AddToHistory appends one command/response pair, truncating both
	// histories to the store's limit.
	AddToHistory(ctx context.Context, sessionID, command, response string) error

	// CleanupExpiredSessions drops every inactive session and reports how
	// many were removed.
	CleanupExpiredSessions(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
