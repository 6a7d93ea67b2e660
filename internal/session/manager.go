package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/llm"
)

// Manager owns the live session map. Sessions are isolated from each
// other; the manager only hands out references and never runs turns
// itself.
type Manager struct {
	client     llm.Client
	dispatcher *capability.Dispatcher
	tok        *Tokenizer
	cfg        Config
	bus        *events.Bus
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. All sessions it creates share
// the same backend, dispatcher, and configuration.
func NewManager(client llm.Client, dispatcher *capability.Dispatcher, cfg Config, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:     client,
		dispatcher: dispatcher,
		tok:        NewTokenizer(),
		cfg:        cfg,
		bus:        bus,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Create starts a new session and registers it.
func (m *Manager) Create() *Session {
	s := New(m.client, m.dispatcher, m.tok, m.cfg, m.bus, m.logger)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.logger.Debug("session created", "session", s.ID())
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the map and reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// IDs returns the active session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
