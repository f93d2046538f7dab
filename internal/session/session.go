// Package session implements operator configuration sessions. A session
// snapshots the supervisor's Settings, collects edits against the copy and
// replaces the stored Settings in one step on commit.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/protocol"
)

var (
	ErrNoSettings     = errors.New("no settings synchronized yet")
	ErrStaleSnapshot  = errors.New("settings changed since the session began")
	ErrUnknownSession = errors.New("unknown session")
	ErrBadEdit        = errors.New("invalid edit")
)

// SettingsStore is the part of the supervisor store a session needs.
type SettingsStore interface {
	Settings() (protocol.Settings, uint64, bool)
	SetSettings(protocol.Settings) uint64
	CompareAndSetSettings(protocol.Settings, uint64) (uint64, error)
}

// Session is one operator's pending set of edits.
type Session struct {
	ID       string            `json:"id"`
	Started  time.Time         `json:"started"`
	Revision uint64            `json:"revision"`
	Settings protocol.Settings `json:"settings"`
	Edits    int               `json:"edits"`
}

// Manager tracks open sessions.
type Manager struct {
	store SettingsStore
	log   *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store SettingsStore, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:    store,
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Begin snapshots the current settings into a new session.
func (m *Manager) Begin() (Session, error) {
	set, rev, ok := m.store.Settings()
	if !ok {
		return Session{}, ErrNoSettings
	}
	s := &Session{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		Revision: rev,
		Settings: set,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Infow("configuration session started", "session", s.ID, "revision", rev)
	return *s, nil
}

// Get returns a copy of an open session.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrUnknownSession
	}
	return *s, nil
}

// Apply applies edits to the session copy. Either every edit applies or the
// session is left as it was.
func (m *Manager) Apply(id string, edits ...Edit) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrUnknownSession
	}

	set := s.Settings
	for i, e := range edits {
		if err := e.Apply(&set); err != nil {
			return *s, fmt.Errorf("edit %d (%s): %w", i, e.Op, err)
		}
	}
	s.Settings = set
	s.Edits += len(edits)
	return *s, nil
}

// Commit writes the session's settings to the store and closes the session.
// Unless force is set, a commit fails with ErrStaleSnapshot when the store
// changed after Begin; the session stays open so the operator can decide.
func (m *Manager) Commit(id string, force bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, ErrUnknownSession
	}
	if err := s.Settings.Validate(); err != nil {
		return 0, err
	}

	var rev uint64
	if force {
		rev = m.store.SetSettings(s.Settings)
	} else {
		var err error
		rev, err = m.store.CompareAndSetSettings(s.Settings, s.Revision)
		if err != nil {
			m.log.Warnw("configuration session is stale", "session", id, "snapshot", s.Revision, "current", rev)
			return rev, ErrStaleSnapshot
		}
	}

	delete(m.sessions, id)
	metrics.SettingsChanges.WithLabelValues("session").Inc()
	m.log.Infow("configuration session committed", "session", id, "edits", s.Edits, "revision", rev, "forced", force)
	return rev, nil
}

// Abort discards a session.
func (m *Manager) Abort(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrUnknownSession
	}
	delete(m.sessions, id)
	m.log.Infow("configuration session aborted", "session", id)
	return nil
}

// Expire aborts sessions older than maxAge and returns how many it removed.
func (m *Manager) Expire(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, s := range m.sessions {
		if s.Started.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
