package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrNoActiveRequest = errors.New("no active request")
)

// Session correlates a sequence of voice requests from one conversation.
type Session struct {
	ID              string    `json:"session_id"`
	OwnerID         string    `json:"owner_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ActiveRequestID string    `json:"active_request_id,omitempty"`

	active *Handle
}

// Manager owns all session records and enforces the barge-in invariant:
// at most one non-terminal request handle per session. Every
// look-up -> maybe-cancel -> replace sequence runs under one mutex, so
// registrations for the same session are never interleaved.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	onBargeIn         func(sessionID, cancelledRequestID string)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook installs a callback invoked for each session removed by
// the janitor sweep. The hook runs outside the manager lock.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetBargeInHook installs a callback invoked whenever a registration
// cancels a predecessor request. The hook runs outside the manager lock.
func (m *Manager) SetBargeInHook(hook func(sessionID, cancelledRequestID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBargeIn = hook
}

func (m *Manager) Create(ownerID string) *Session {
	if strings.TrimSpace(ownerID) == "" {
		ownerID = "anonymous"
	}
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Register installs h as the session's active request. Any still-running
// predecessor is cancelled first (barge-in); the cancel is fire-and-forget
// and the old task unwinds on its own. Last write wins. Returns false when
// the session does not exist.
func (m *Manager) Register(sessionID, requestID string, h *Handle) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		log.Printf("session: register for unknown session %s", sessionID)
		return false
	}

	var cancelledID string
	if s.active != nil && !s.active.Finished() {
		cancelledID = s.active.ID()
		s.active.Cancel()
	}

	s.active = h
	s.ActiveRequestID = requestID
	s.LastActivityAt = time.Now().UTC()
	hook := m.onBargeIn
	m.mu.Unlock()

	if cancelledID != "" {
		log.Printf("session: barge-in on %s cancelled request %s", sessionID, cancelledID)
		if hook != nil {
			hook(sessionID, cancelledID)
		}
	}
	return true
}

// CancelActive cancels the session's running request without replacing
// it. Returns ErrNotFound for unknown sessions and ErrNoActiveRequest
// when nothing is running; both are caller-visible outcomes.
func (m *Manager) CancelActive(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.active == nil || s.active.Finished() {
		return ErrNoActiveRequest
	}

	log.Printf("session: cancelling request %s for session %s", s.active.ID(), sessionID)
	s.active.Cancel()
	s.active = nil
	s.ActiveRequestID = ""
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End cancels any running request and removes the session record.
func (m *Manager) End(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.active != nil && !s.active.Finished() {
		s.active.Cancel()
	}
	delete(m.sessions, sessionID)
	return nil
}

// CleanupExpired removes every session idle longer than the inactivity
// timeout, cancelling its running request as part of removal. Sessions
// with fresh activity are never removed, even when a request stalls.
func (m *Manager) CleanupExpired(now time.Time) int {
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) <= m.inactivityTimeout {
			continue
		}
		if s.active != nil && !s.active.Finished() {
			s.active.Cancel()
		}
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if len(expired) > 0 {
		log.Printf("session: cleaned up %d expired sessions", len(expired))
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return len(expired)
}

// StartJanitor runs the expiry sweep on a ticker until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired(time.Now().UTC())
			}
		}
	}()
}

// ActiveSessionCount reports the number of session records in the store.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveRequestCount reports how many sessions have a non-terminal
// request at the moment of the call. The snapshot may be slightly stale
// under concurrent mutation.
func (m *Manager) ActiveRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.active != nil && !s.active.Finished() {
			count++
		}
	}
	return count
}

// InactivityTimeout reports the configured idle timeout.
func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func clone(s *Session) *Session {
	c := *s
	// A finished handle means no active request; do not report a stale id.
	if s.active == nil || s.active.Finished() {
		c.ActiveRequestID = ""
	}
	c.active = nil
	return &c
}
