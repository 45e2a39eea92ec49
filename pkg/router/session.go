package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/transport"
)

// LiveSession binds one wizard component to its WebSocket connection.
type LiveSession struct {
	ID       string
	SocketID string

	Component core.Component
	Socket    *core.Socket
	Transport *transport.WebSocketTransport

	Params  core.Params
	Session core.Session

	// Topic is the wire topic, "lv:<socket id>".
	Topic string

	CreatedAt    time.Time
	LastActivity time.Time

	// Mounted is set once the join has mounted the component.
	Mounted bool

	// FNV-64a of the last markup sent
	renderHash uint64
	rendered   bool

	mu sync.RWMutex
}

// NewLiveSession creates a session for socketID.
func NewLiveSession(socketID string, comp core.Component, params core.Params, session core.Session) *LiveSession {
	now := time.Now()
	return &LiveSession{
		ID:           uuid.NewString(),
		SocketID:     socketID,
		Component:    comp,
		Params:       params,
		Session:      session,
		Topic:        "lv:" + socketID,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// UpdateActivity records activity now.
func (s *LiveSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// GetLastActivity returns the last activity time.
func (s *LiveSession) GetLastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// SetMounted marks the session mounted.
func (s *LiveSession) SetMounted(mounted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mounted = mounted
}

// IsMounted reports whether the component has been mounted.
func (s *LiveSession) IsMounted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Mounted
}

// SessionManagerConfig configures the session manager.
type SessionManagerConfig struct {
	// MaxSessions caps concurrent wizard sessions (0 = unlimited). The least
	// recently active session is evicted when the cap is reached.
	MaxSessions int

	// SessionTTL is how long an idle session is kept.
	SessionTTL time.Duration
}

// DefaultSessionManagerConfig returns the default configuration.
func DefaultSessionManagerConfig() *SessionManagerConfig {
	return &SessionManagerConfig{
		MaxSessions: 10000,
		SessionTTL:  30 * time.Minute,
	}
}

// SessionManager tracks live wizard sessions.
type SessionManager struct {
	sessions map[string]*LiveSession
	bySocket map[string]*LiveSession

	maxSessions int
	sessionTTL  time.Duration

	mu sync.RWMutex
}

// NewSessionManager creates a manager with the default configuration.
func NewSessionManager() *SessionManager {
	return NewSessionManagerWithConfig(DefaultSessionManagerConfig())
}

// NewSessionManagerWithConfig creates a manager.
func NewSessionManagerWithConfig(config *SessionManagerConfig) *SessionManager {
	if config == nil {
		config = DefaultSessionManagerConfig()
	}
	return &SessionManager{
		sessions:    make(map[string]*LiveSession),
		bySocket:    make(map[string]*LiveSession),
		maxSessions: config.MaxSessions,
		sessionTTL:  config.SessionTTL,
	}
}

// Create registers a new session. It returns the session evicted to make
// room, if any, so the caller can close it.
func (m *SessionManager) Create(socketID string, comp core.Component, params core.Params, session core.Session) (*LiveSession, *LiveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted *LiveSession
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		evicted = m.evictOldestLocked()
	}

	s := NewLiveSession(socketID, comp, params, session)
	m.sessions[s.ID] = s
	m.bySocket[socketID] = s

	return s, evicted
}

// Get returns a session by id.
func (m *SessionManager) Get(sessionID string) (*LiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// GetBySocket returns a session by socket id.
func (m *SessionManager) GetBySocket(socketID string) (*LiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySocket[socketID]
	return s, ok
}

// Remove unregisters a session.
func (m *SessionManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		delete(m.bySocket, s.SocketID)
		delete(m.sessions, sessionID)
	}
}

// Count returns the number of sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expired removes and returns sessions idle for longer than the TTL.
func (m *SessionManager) Expired() []*LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []*LiveSession
	for id, s := range m.sessions {
		if now.Sub(s.GetLastActivity()) > m.sessionTTL {
			delete(m.bySocket, s.SocketID)
			delete(m.sessions, id)
			out = append(out, s)
		}
	}
	return out
}

// must be called with m.mu held
func (m *SessionManager) evictOldestLocked() *LiveSession {
	var oldest *LiveSession
	for _, s := range m.sessions {
		if oldest == nil || s.GetLastActivity().Before(oldest.GetLastActivity()) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(m.bySocket, oldest.SocketID)
		delete(m.sessions, oldest.ID)
	}
	return oldest
}

func generateSocketID() string {
	return uuid.NewString()
}
