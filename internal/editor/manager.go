package editor

import (
	"context"
	"sync"
)

// Manager tracks the open editor session per note. A note has at most
// one live session; reopening an already-open note returns the existing
// session so state is not forked.
type Manager struct {
	saver Saver
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(saver Saver, cfg Config) *Manager {
	return &Manager{
		saver:    saver,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for a note, creating one from the
// persisted state if none exists.
func (m *Manager) Open(noteID, ownerID, title, content string, published bool) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[noteID]; ok {
		return s
	}
	s := NewSession(noteID, ownerID, title, content, published, m.saver, m.cfg)
	m.sessions[noteID] = s
	return s
}

// Get returns the live session for a note, if any.
func (m *Manager) Get(noteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[noteID]
	return s, ok
}

// Close shuts down the session for a note and removes it from the
// registry. Closing a note with no session is a no-op.
func (m *Manager) Close(ctx context.Context, noteID string) error {
	m.mu.Lock()
	s, ok := m.sessions[noteID]
	if ok {
		delete(m.sessions, noteID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll shuts down every open session, for server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}
