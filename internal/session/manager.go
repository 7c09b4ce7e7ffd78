package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the instance-local session table. Sessions are created by
// the gateway after authentication and destroyed on disconnect or forced
// eviction; destruction is always routed through the gateway so room
// membership is released first.
type Manager struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:   logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Create builds and registers a session for a verified identity.
func (m *Manager) Create(userID, userName, role, schoolID string, now time.Time) *Session {
	s := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		UserName:   userName,
		Role:       role,
		SchoolID:   schoolID,
		CreatedAt:  now,
		lastActive: now,
		rooms:      make(map[string]struct{}),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info().Str("session", s.ID).Str("user", userID).Str("role", role).Msg("session established")
	return s
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Remove drops the session record. Idempotent.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		m.logger.Info().Str("session", sessionID).Str("user", s.UserID).Msg("session terminated")
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Idle returns sessions whose last activity is older than the cutoff.
// The presence monitor hands these to the gateway for forced eviction.
func (m *Manager) Idle(cutoff time.Time) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle
}
