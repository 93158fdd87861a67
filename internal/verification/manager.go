package verification

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventgate/backend/internal/apperr"
	"github.com/eventgate/backend/internal/clock"
)

// Manager owns the live scanning sessions of this instance.
type Manager struct {
	gate   Redeemer
	clock  clock.Clock
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(gate Redeemer, clk clock.Clock, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{gate: gate, clock: clk, opts: opts, logger: logger, sessions: make(map[string]*Session)}
}

// Start opens a new session for ownerID with zeroed counters.
func (m *Manager) Start(ownerID string) *Session {
	s := newSession(uuid.NewString(), ownerID, m.gate, m.clock, m.opts)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.logger.Info("scan session started", zap.String("session_id", s.id), zap.String("owner_id", ownerID))
	return s
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound("scan session", id)
	}
	return s, nil
}

// End tears a session down and returns its final snapshot.
func (m *Manager) End(id string) (Snapshot, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, apperr.NotFound("scan session", id)
	}
	snap := s.Snapshot()
	s.end()
	m.logger.Info("scan session ended",
		zap.String("session_id", id),
		zap.Int("scanned", snap.Counters.Scanned),
		zap.Int("verified", snap.Counters.Verified),
		zap.Int("rejected", snap.Counters.Rejected),
	)
	return snap, nil
}

// EndForOwner ends every session of ownerID, as on logout or idle expiry.
// It returns how many were ended.
func (m *Manager) EndForOwner(ownerID string) int {
	m.mu.Lock()
	var ids []string
	for id, s := range m.sessions {
		if s.ownerID == ownerID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, err := m.End(id); err == nil {
			n++
		}
	}
	return n
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
