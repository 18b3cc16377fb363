package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/measurement"
)

// ErrNotFound is returned for unknown sessions and sessions owned by someone
// else.
var ErrNotFound = errors.New("session not found")

// Settings are applied to every new session.
type Settings struct {
	Catalog     measurement.Catalog
	Calibration calibration.Options
	Engine      measurement.Options
	// TTL is how long an untouched session is kept.
	TTL time.Duration
}

// DefaultSettings returns the stock catalog and parameters with a 30 minute TTL.
func DefaultSettings() Settings {
	return Settings{
		Catalog:     measurement.DefaultCatalog(),
		Calibration: calibration.DefaultOptions(),
		Engine:      measurement.DefaultOptions(),
		TTL:         30 * time.Minute,
	}
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager owns the live sessions.
type Manager struct {
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager returns an empty session manager.
func NewManager(settings Settings, logger *zap.Logger) *Manager {
	return &Manager{
		settings: settings,
		logger:   logger.Named("session_manager"),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Settings returns the settings applied to new sessions.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Create starts a new session for userID. A non-nil autoHeightCM makes the
// session calibrate itself on its first valid frame.
func (m *Manager) Create(userID string, autoHeightCM *float64) *Session {
	id := uuid.NewString()
	s := newSession(id, userID, autoHeightCM, m.settings, m.now, m.logger)

	m.mu.Lock()
	m.sessions[id] = &entry{session: s, lastSeen: m.now()}
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", id), zap.String("user_id", userID))
	return s
}

// Get returns the user's session and marks it as recently used.
func (m *Manager) Get(userID, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok || e.session.userID != userID {
		return nil, ErrNotFound
	}
	e.lastSeen = m.now()
	return e.session, nil
}

// Delete ends the user's session.
func (m *Manager) Delete(userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok || e.session.userID != userID {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Sweep() int {
	if m.settings.TTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.settings.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("expired idle sessions", zap.Int("removed", removed), zap.Int("remaining", len(m.sessions)))
	}
	return removed
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
