package orchestrator

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/models"
)

// HostHealthStore keeps the long-lived per-host failure history and cooldown
// windows for one (provider, scope) engine. Records are created lazily on
// first reference.
type HostHealthStore struct {
	mu      sync.Mutex
	records map[string]*models.HostHealthRecord
	clock   func() time.Time
}

// NewHostHealthStore creates an empty health store.
func NewHostHealthStore() *HostHealthStore {
	return &HostHealthStore{
		records: make(map[string]*models.HostHealthRecord),
		clock:   time.Now,
	}
}

// Get returns a copy of the host's record, creating an empty one on first
// reference.
func (s *HostHealthStore) Get(host string) *models.HostHealthRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(host).Clone()
}

// RecordSuccess clears failures, error fields, and cooldown. LastErrorAt is
// preserved as history.
func (s *HostHealthStore) RecordSuccess(host string, when time.Time) *models.HostHealthRecord {
	if when.IsZero() {
		when = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(host)
	rec.ConsecutiveFailures = 0
	rec.LastSuccessAt = &when
	rec.LastErrorType = ""
	rec.LastErrorMessage = ""
	rec.CooldownUntil = nil
	return rec.Clone()
}

// RecordFailure increments the failure counter and arms the exponential
// cooldown from the failure instant.
func (s *HostHealthStore) RecordFailure(host string, when time.Time, errorType, errorMessage string) *models.HostHealthRecord {
	if when.IsZero() {
		when = s.clock()
	}

	s.mu.Lock()
	rec := s.getLocked(host)
	rec.ConsecutiveFailures++
	rec.LastErrorAt = &when
	rec.LastErrorType = errorType
	rec.LastErrorMessage = errorMessage
	until := when.Add(models.CooldownDuration(rec.ConsecutiveFailures))
	rec.CooldownUntil = &until
	cp := rec.Clone()
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"host":                 cp.Host,
		"consecutive_failures": cp.ConsecutiveFailures,
		"error_type":           errorType,
		"cooldown_until":       until.Format(time.RFC3339),
	}).Warn("Host collection failure recorded")

	return cp
}

// SetCooldown overrides the cooldown window; a nil until clears it.
func (s *HostHealthStore) SetCooldown(host string, until *time.Time) *models.HostHealthRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getLocked(host)
	rec.CooldownUntil = until
	return rec.Clone()
}

func (s *HostHealthStore) getLocked(host string) *models.HostHealthRecord {
	key := strings.ToLower(strings.TrimSpace(host))
	rec, ok := s.records[key]
	if !ok {
		rec = &models.HostHealthRecord{Host: key}
		s.records[key] = rec
	}
	return rec
}
