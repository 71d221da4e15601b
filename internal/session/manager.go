package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/transport"
)

// Manager tracks the live sessions of one process. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *observe.Metrics
}

// NewManager creates an empty [Manager]. A nil metrics selects
// [observe.DefaultMetrics].
func NewManager(metrics *observe.Metrics) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Create builds a session from cfg bound to sender and registers it under
// cfg.ID. Returns an error when the ID is already taken.
func (mgr *Manager) Create(cfg Config, sender transport.Sender) (*Session, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = mgr.metrics
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if _, ok := mgr.sessions[cfg.ID]; ok {
		return nil, fmt.Errorf("session: id %q already exists", cfg.ID)
	}

	s := New(cfg, sender)
	mgr.sessions[cfg.ID] = s
	mgr.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session created", "session_id", cfg.ID)
	return s, nil
}

// Get returns the session registered under id, or nil.
func (mgr *Manager) Get(id string) *Session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.sessions[id]
}

// Remove closes and unregisters the session with the given id. When flush is
// true, buffered frames are sent before the session closes. Removing an
// unknown id is a no-op.
func (mgr *Manager) Remove(id string, flush bool) {
	mgr.mu.Lock()
	s, ok := mgr.sessions[id]
	if ok {
		delete(mgr.sessions, id)
	}
	mgr.mu.Unlock()

	if !ok {
		return
	}
	s.Close(flush)
	mgr.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session removed", "session_id", id)
}

// Len returns the number of live sessions.
func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.sessions)
}

// CloseAll closes every session without flushing and empties the manager.
func (mgr *Manager) CloseAll() {
	mgr.mu.Lock()
	sessions := mgr.sessions
	mgr.sessions = make(map[string]*Session)
	mgr.mu.Unlock()

	for id, s := range sessions {
		s.Close(false)
		mgr.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Debug("session closed", "session_id", id)
	}
}
