package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrEnded           = errors.New("session ended")
	ErrAlreadyAttached = errors.New("session already has a websocket attached")
)

// Session is one widget registration. A browser tab creates it over HTTP and
// then attaches exactly one websocket to it.
type Session struct {
	ID                string    `json:"session_id"`
	VisitorID         string    `json:"visitor_id"`
	Status            Status    `json:"status"`
	PersonaID         string    `json:"persona_id"`
	Attached          bool      `json:"attached"`
	CallCount         int       `json:"call_count"`
	HandoffCount      int       `json:"handoff_count"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByVisitor  map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByVisitor:  make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a session. A visitor holds at most one active session; an
// earlier one is ended.
func (m *Manager) Create(visitorID, personaID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		VisitorID:      visitorID,
		PersonaID:      personaID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if visitorID != "" {
		if prev, ok := m.sessions[m.sessionByVisitor[visitorID]]; ok && prev.Status == StatusActive {
			prev.Status = StatusEnded
			prev.LastActivityAt = now
		}
		m.sessionByVisitor[visitorID] = s.ID
	}
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

// Attach marks the session as owned by a websocket. Detach releases it.
func (m *Manager) Attach(sessionID string) error {
	return m.update(sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrEnded
		}
		if s.Attached {
			return ErrAlreadyAttached
		}
		s.Attached = true
		return nil
	})
}

func (m *Manager) Detach(sessionID string) error {
	return m.update(sessionID, func(s *Session) error {
		s.Attached = false
		return nil
	})
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) error { return nil })
}

// StartCall records a fresh connect with the given persona.
func (m *Manager) StartCall(sessionID, personaID string) error {
	return m.update(sessionID, func(s *Session) error {
		s.CallCount++
		s.PersonaID = personaID
		return nil
	})
}

// SetPersona records the persona the widget is talking to. A change within a
// call counts as a handoff.
func (m *Manager) SetPersona(sessionID, personaID string) error {
	return m.update(sessionID, func(s *Session) error {
		if personaID == "" || personaID == s.PersonaID {
			return nil
		}
		if s.PersonaID != "" {
			s.HandoffCount++
		}
		s.PersonaID = personaID
		return nil
	})
}

// RecordInterruptions adds barge-ins counted during a call.
func (m *Manager) RecordInterruptions(sessionID string, n int) error {
	return m.update(sessionID, func(s *Session) error {
		if n > 0 {
			s.InterruptionCount += n
		}
		return nil
	})
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	if s.VisitorID != "" && m.sessionByVisitor[s.VisitorID] == s.ID {
		delete(m.sessionByVisitor, s.VisitorID)
	}
	return clone(s), nil
}

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
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) update(sessionID string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(s); err != nil {
		return err
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// expireInactive ends sessions idle past the timeout. Sessions with an
// attached websocket are kept alive by their traffic.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if now.Sub(s.LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.VisitorID != "" && m.sessionByVisitor[s.VisitorID] == s.ID {
			delete(m.sessionByVisitor, s.VisitorID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
