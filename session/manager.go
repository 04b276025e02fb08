package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager maintains the registry of connected sessions, one per user.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*UserSession // userID → session
	logger   *zap.Logger
}

// NewManager creates a new Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[int64]*UserSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same user,
// it is closed first (handles duplicate login / reconnect).
func (m *Manager) Register(s *UserSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[s.UserID]; ok && old != s {
		old.Close()
		m.logger.Info("duplicate session displaced", zap.Int64("user_id", s.UserID))
	}
	m.sessions[s.UserID] = s
	m.logger.Info("session registered", zap.Int64("user_id", s.UserID))
}

// Unregister removes s. A newer session registered for the same user is
// left in place.
func (m *Manager) Unregister(s *UserSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.UserID]; ok && cur == s {
		delete(m.sessions, s.UserID)
		m.logger.Info("session unregistered", zap.Int64("user_id", s.UserID))
	}
}

// Get returns the session for a user, or nil if not found.
func (m *Manager) Get(userID int64) *UserSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID]
}

// IsOnline reports whether a user is currently connected.
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[userID]
	return ok
}

// Count returns the number of currently connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot slice of all current sessions.
func (m *Manager) All() []*UserSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UserSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every session and waits up to timeout for the read loops
// to unregister them.
func (m *Manager) CloseAll(timeout time.Duration) {
	sessions := m.All()
	m.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
