package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	usersFile    = "users.json"
	sessionsFile = "sessions.json"
)

// FileStore keeps everything in memory and rewrites two JSON documents under
// the data directory on each mutation. Writes go through a temp file plus
// rename so a crash mid-write never corrupts the previous state.
type FileStore struct {
	dir          string
	ttl          time.Duration
	historyLimit int
	now          func() time.Time

	mu       sync.Mutex
	users    map[string]*UserContext
	sessions map[string]*SessionContext
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileOption is a functional option for [NewFileStore].
type FileOption func(*FileStore)

// WithSessionTTL overrides the session idle window.
func WithSessionTTL(ttl time.Duration) FileOption {
	return func(s *FileStore) { s.ttl = ttl }
}

// WithHistoryLimit overrides the per-session history bound.
func WithHistoryLimit(n int) FileOption {
	return func(s *FileStore) { s.historyLimit = n }
}

// withClock fixes the store's notion of now. Used by tests to age sessions
// without sleeping.
func withClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates the data directory if needed and loads both
// documents. Sessions that expired while the process was down load fine but
// are rejected by the first lookup.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		dir:          dir,
		ttl:          DefaultSessionTTL,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		users:        make(map[string]*UserContext),
		sessions:     make(map[string]*SessionContext),
	}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("contextstore: create data dir %s: %w", dir, err)
	}
	if err := loadJSON(filepath.Join(dir, usersFile), &s.users); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, sessionsFile), &s.sessions); err != nil {
		return nil, err
	}
	return s, nil
}

func loadJSON[T any](path string, into *map[string]*T) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("contextstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("contextstore: parse %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) GetUser(_ context.Context, userID string) (*UserContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	cp := *u
	return &cp, nil
}

func (s *FileStore) PutUser(_ context.Context, user *UserContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	cp.LastActivity = s.now()
	s.users[user.UserID] = &cp
	return s.saveUsersLocked()
}

func (s *FileStore) CreateSession(_ context.Context, userID, interfaceType string) (*SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &SessionContext{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		InterfaceType: interfaceType,
		CreatedAt:     now,
		LastAccessed:  now,
	}
	s.sessions[sess.SessionID] = sess
	if err := s.saveSessionsLocked(); err != nil {
		return nil, err
	}
	cp := *sess
	return &cp, nil
}

func (s *FileStore) GetSession(_ context.Context, sessionID string) (*SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.activeSessionLocked(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	sess.LastAccessed = s.now()
	cp := *sess
	return &cp, nil
}

func (s *FileStore) UpdateSession(_ context.Context, sessionID string, upd SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.activeSessionLocked(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
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
	sess.LastAccessed = s.now()
	return s.saveSessionsLocked()
}

func (s *FileStore) AddToHistory(_ context.Context, sessionID, command, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.activeSessionLocked(sessionID)
	if sess == nil {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}

	sess.CommandHistory = appendBounded(sess.CommandHistory, command, s.historyLimit)
	sess.ResponseHistory = appendBounded(sess.ResponseHistory, response, s.historyLimit)
	sess.LastAccessed = s.now()
	return s.saveSessionsLocked()
}

func (s *FileStore) CleanupExpiredSessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !s.isActiveLocked(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveSessionsLocked()
}

func (s *FileStore) Close() error { return nil }

// activeSessionLocked returns the live session or nil when unknown or
// expired. Expired entries stay in the map for the cleanup loop to count.
func (s *FileStore) activeSessionLocked(sessionID string) *SessionContext {
	sess, ok := s.sessions[sessionID]
	if !ok || !s.isActiveLocked(sess) {
		return nil
	}
	return sess
}

func (s *FileStore) isActiveLocked(sess *SessionContext) bool {
	return s.now().Sub(sess.LastAccessed) < s.ttl
}

func appendBounded(history []string, entry string, limit int) []string {
	history = append(history, entry)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// ─── Persistence ───

func (s *FileStore) saveUsersLocked() error {
	return writeAtomic(filepath.Join(s.dir, usersFile), s.users)
}

// saveSessionsLocked writes only active sessions; expired ones vanish from
// disk on the next save even before cleanup runs.
func (s *FileStore) saveSessionsLocked() error {
	active := make(map[string]*SessionContext, len(s.sessions))
	for id, sess := range s.sessions {
		if s.isActiveLocked(sess) {
			active[id] = sess
		}
	}
	return writeAtomic(filepath.Join(s.dir, sessionsFile), active)
}

// writeAtomic serializes v to a temp file in the same directory and renames
// it over the target.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("contextstore: marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("contextstore: temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("contextstore: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("contextstore: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("contextstore: replace %s: %w", path, err)
	}
	return nil
}
