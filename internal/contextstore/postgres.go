package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the context tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS assistant_users (
    user_id       TEXT PRIMARY KEY,
    language      TEXT NOT NULL DEFAULT '',
    timezone      TEXT NOT NULL DEFAULT '',
    location      TEXT NOT NULL DEFAULT '',
    preferences   JSONB NOT NULL DEFAULT '{}',
    last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS assistant_sessions (
    session_id        TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    interface_type    TEXT NOT NULL DEFAULT 'text',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_accessed     TIMESTAMPTZ NOT NULL DEFAULT now(),
    command_history   JSONB NOT NULL DEFAULT '[]',
    response_history  JSONB NOT NULL DEFAULT '[]',
    variables         JSONB NOT NULL DEFAULT '{}',
    last_intent       TEXT NOT NULL DEFAULT '',
    last_parameters   JSONB NOT NULL DEFAULT '{}',
    last_used_service TEXT NOT NULL DEFAULT '',
    service_state     JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_assistant_sessions_user ON assistant_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_assistant_sessions_accessed ON assistant_sessions(last_accessed);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL, for deployments where
// several orchestrator instances share context. History maps and parameter
// maps are serialised as JSONB.
type PostgresStore struct {
	db           DB
	ttl          time.Duration
	historyLimit int
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresOption is a functional option for [NewPostgresStore].
type PostgresOption func(*PostgresStore)

// WithPostgresSessionTTL overrides the session idle window.
func WithPostgresSessionTTL(ttl time.Duration) PostgresOption {
	return func(s *PostgresStore) { s.ttl = ttl }
}

// WithPostgresHistoryLimit overrides the per-session history bound.
func WithPostgresHistoryLimit(n int) PostgresOption {
	return func(s *PostgresStore) { s.historyLimit = n }
}

// NewPostgresStore wraps an existing connection or pool. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, ttl: DefaultSessionTTL, historyLimit: DefaultHistoryLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("contextstore: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*UserContext, error) {
	const query = `
		SELECT user_id, language, timezone, location, preferences, last_activity
		FROM assistant_users WHERE user_id = $1`

	var u UserContext
	var prefsJSON []byte
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.Language, &u.Timezone, &u.Location, &prefsJSON, &u.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("contextstore: get user %s: %w", userID, err)
	}
	if err := json.Unmarshal(prefsJSON, &u.Preferences); err != nil {
		return nil, fmt.Errorf("contextstore: unmarshal preferences: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) PutUser(ctx context.Context, user *UserContext) error {
	prefsJSON, err := json.Marshal(emptyMap(user.Preferences))
	if err != nil {
		return fmt.Errorf("contextstore: marshal preferences: %w", err)
	}

	const query = `
		INSERT INTO assistant_users (user_id, language, timezone, location, preferences, last_activity)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET
			language = EXCLUDED.language,
			timezone = EXCLUDED.timezone,
			location = EXCLUDED.location,
			preferences = EXCLUDED.preferences,
			last_activity = now()`

	if _, err := s.db.Exec(ctx, query, user.UserID, user.Language, user.Timezone, user.Location, prefsJSON); err != nil {
		return fmt.Errorf("contextstore: put user %s: %w", user.UserID, err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID, interfaceType string) (*SessionContext, error) {
	sess := &SessionContext{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		InterfaceType: interfaceType,
	}

	const query = `
		INSERT INTO assistant_sessions (session_id, user_id, interface_type)
		VALUES ($1, $2, $3)
		RETURNING created_at, last_accessed`

	err := s.db.QueryRow(ctx, query, sess.SessionID, userID, interfaceType).
		Scan(&sess.CreatedAt, &sess.LastAccessed)
	if err != nil {
		return nil, fmt.Errorf("contextstore: create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*SessionContext, error) {
	const query = `
		UPDATE assistant_sessions SET last_accessed = now()
		WHERE session_id = $1 AND last_accessed > now() - make_interval(secs => $2)
		RETURNING session_id, user_id, interface_type, created_at, last_accessed,
		          command_history, response_history, variables,
		          last_intent, last_parameters, last_used_service, service_state`

	var sess SessionContext
	var cmdJSON, respJSON, varsJSON, paramsJSON, stateJSON []byte
	err := s.db.QueryRow(ctx, query, sessionID, s.ttl.Seconds()).Scan(
		&sess.SessionID, &sess.UserID, &sess.InterfaceType, &sess.CreatedAt, &sess.LastAccessed,
		&cmdJSON, &respJSON, &varsJSON,
		&sess.LastIntent, &paramsJSON, &sess.LastUsedService, &stateJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("contextstore: get session %s: %w", sessionID, err)
	}

	for _, pair := range []struct {
		raw  []byte
		into any
	}{
		{cmdJSON, &sess.CommandHistory},
		{respJSON, &sess.ResponseHistory},
		{varsJSON, &sess.Variables},
		{paramsJSON, &sess.LastParameters},
		{stateJSON, &sess.ServiceState},
	} {
		if err := json.Unmarshal(pair.raw, pair.into); err != nil {
			return nil, fmt.Errorf("contextstore: unmarshal session %s: %w", sessionID, err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if upd.LastIntent != nil {
		sess.LastIntent = *upd.LastIntent
	}
	if upd.LastParameters != nil {
		sess.LastParameters = upd.LastParameters
	}
	if upd.LastUsedService != nil {
		sess.LastUsedService = *upd.LastUsedService
	}
	if upd.Variables != nil {
		sess.Variables = upd.Variables
	}
	if upd.ServiceState != nil {
		sess.ServiceState = upd.ServiceState
	}

	paramsJSON, err := json.Marshal(emptyMap(sess.LastParameters))
	if err != nil {
		return fmt.Errorf("contextstore: marshal last_parameters: %w", err)
	}
	varsJSON, err := json.Marshal(emptyMap(sess.Variables))
	if err != nil {
		return fmt.Errorf("contextstore: marshal variables: %w", err)
	}
	stateJSON, err := json.Marshal(sess.ServiceState)
	if err != nil {
		return fmt.Errorf("contextstore: marshal service_state: %w", err)
	}

	const query = `
		UPDATE assistant_sessions SET
			last_intent = $2, last_parameters = $3, last_used_service = $4,
			variables = $5, service_state = $6, last_accessed = now()
		WHERE session_id = $1`

	if _, err := s.db.Exec(ctx, query, sessionID,
		sess.LastIntent, paramsJSON, sess.LastUsedService, varsJSON, stateJSON); err != nil {
		return fmt.Errorf("contextstore: update session %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) AddToHistory(ctx context.Context, sessionID, command, response string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	cmdJSON, err := json.Marshal(appendBounded(sess.CommandHistory, command, s.historyLimit))
	if err != nil {
		return fmt.Errorf("contextstore: marshal command_history: %w", err)
	}
	respJSON, err := json.Marshal(appendBounded(sess.ResponseHistory, response, s.historyLimit))
	if err != nil {
		return fmt.Errorf("contextstore: marshal response_history: %w", err)
	}

	const query = `
		UPDATE assistant_sessions SET
			command_history = $2, response_history = $3, last_accessed = now()
		WHERE session_id = $1`

	if _, err := s.db.Exec(ctx, query, sessionID, cmdJSON, respJSON); err != nil {
		return fmt.Errorf("contextstore: append history %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context) (int, error) {
	const query = `DELETE FROM assistant_sessions WHERE last_accessed <= now() - make_interval(secs => $1)`
	tag, err := s.db.Exec(ctx, query, s.ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("contextstore: cleanup sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the caller owns the pool's lifecycle.
func (s *PostgresStore) Close() error { return nil }

// emptyMap keeps JSONB columns as "{}" instead of SQL null.
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
