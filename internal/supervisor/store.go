// Package supervisor is the server side of the node protocol: the shared
// Settings and Status records, the alert queue and the TCP listener.
package supervisor

import (
	"errors"
	"sync"
	"time"

	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/protocol"
)

// ErrRevisionMismatch is returned by CompareAndSetSettings when the settings
// changed since the caller's snapshot.
var ErrRevisionMismatch = errors.New("settings revision changed")

// Store owns the supervisor's mirror of Settings and the last interesting
// Status. Each record has its own lock, held only while copying.
type Store struct {
	settingsMu sync.Mutex
	settings   protocol.Settings
	valid      bool
	revision   uint64

	statusMu    sync.Mutex
	status      protocol.Status
	statusAt    time.Time
	hasStatus   bool
	unpublished bool
}

// NewStore returns an empty store. It holds no settings until a node uploads
// its own or persisted ones are restored.
func NewStore() *Store {
	return &Store{}
}

// Settings returns a copy of the settings, their revision and whether any
// exist yet.
func (s *Store) Settings() (protocol.Settings, uint64, bool) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.settings, s.revision, s.valid
}

// SetSettings replaces the settings unconditionally.
func (s *Store) SetSettings(set protocol.Settings) uint64 {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.settings = set
	s.valid = true
	s.revision++
	return s.revision
}

// Bootstrap stores settings uploaded by a node, unless another writer got
// there first. It reports whether the upload was taken.
func (s *Store) Bootstrap(set protocol.Settings) bool {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if s.valid {
		return false
	}
	s.settings = set
	s.valid = true
	s.revision++
	return true
}

// CompareAndSetSettings replaces the settings only if their revision is
// still rev.
func (s *Store) CompareAndSetSettings(set protocol.Settings, rev uint64) (uint64, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if !s.valid || s.revision != rev {
		return s.revision, ErrRevisionMismatch
	}
	s.settings = set
	s.revision++
	return s.revision, nil
}

// MarkHardwareFailure sets the failure flag of the mirrored settings so the
// node keeps irrigation suppressed on its next sync.
func (s *Store) MarkHardwareFailure() {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if !s.valid || s.settings.HardwareFailure {
		return
	}
	s.settings.HardwareFailure = true
	s.revision++
}

func (s *Store) debug() bool {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.valid && s.settings.Debug
}

// OfferStatus stores a report if it is interesting: debug mode is on, or some
// plant got wetter and the moisture values differ from the last stored
// report. Interesting reports are marked unpublished.
func (s *Store) OfferStatus(st protocol.Status, at time.Time) bool {
	interesting := s.debug()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if !interesting {
		interesting = st.MoistureRose() && !(s.hasStatus && s.status.SameMoisture(&st))
	}
	if !interesting {
		metrics.StatusReports.WithLabelValues("suppressed").Inc()
		return false
	}

	s.status = st
	s.statusAt = at
	s.hasStatus = true
	s.unpublished = true
	metrics.StatusReports.WithLabelValues("accepted").Inc()
	return true
}

// LastStatus returns the last stored report and when it arrived.
func (s *Store) LastStatus() (protocol.Status, time.Time, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status, s.statusAt, s.hasStatus
}

// TakeUnpublished returns the stored report if it was not published yet and
// marks it published.
func (s *Store) TakeUnpublished() (protocol.Status, time.Time, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if !s.unpublished {
		return protocol.Status{}, time.Time{}, false
	}
	s.unpublished = false
	return s.status, s.statusAt, true
}

// Unpublished reports whether a stored report awaits publishing.
func (s *Store) Unpublished() bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.unpublished
}
