package orchestrator

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/models"
)

// SnapshotStore holds the authoritative in-memory snapshot per ScopeKey and
// mirrors every change into the persistence bridge. The store lock is held
// only for the map mutation; persistence runs after release so a slow or
// broken database can never stall a runner.
type SnapshotStore struct {
	mu          sync.Mutex
	provider    models.Provider
	snaps       map[string]*models.SnapshotPayload
	persistence SnapshotPersistence
	clock       func() time.Time
}

// NewSnapshotStore creates a snapshot store backed by the given persistence
// bridge.
func NewSnapshotStore(provider models.Provider, persistence SnapshotPersistence) *SnapshotStore {
	if persistence == nil {
		persistence = NoopPersistence{}
	}
	return &SnapshotStore{
		provider:    provider,
		snaps:       make(map[string]*models.SnapshotPayload),
		persistence: persistence,
		clock:       time.Now,
	}
}

// HostUpsert is one host's contribution to a snapshot. Nil VMs/HostInfo
// preserves whatever data the host had before, the carry-over path for
// cooldown skips and failures.
type HostUpsert struct {
	VMs         []models.VMRecord
	HostInfo    *models.HostRecord
	Status      models.SnapshotHostStatus
	GeneratedAt time.Time
	Summary     map[string]interface{}
	Stale       bool
	StaleReason string
}

// InitSnapshot allocates an empty snapshot with every host pending and
// persists it. An existing snapshot is returned untouched.
func (s *SnapshotStore) InitSnapshot(key models.ScopeKey) *models.SnapshotPayload {
	s.mu.Lock()
	snap, existed := s.snaps[key.String()]
	if !existed {
		snap = s.newSnapshotLocked(key, s.clock())
		s.snaps[key.String()] = snap
	}
	cp := snap.Clone()
	s.mu.Unlock()

	if !existed {
		s.persist(key, cp)
	}
	cp.Source = models.SnapshotSourceMemory
	return cp
}

// UpsertHost applies one host result under lock, advances generated_at
// monotonically, then mirrors the whole payload to persistence.
func (s *SnapshotStore) UpsertHost(key models.ScopeKey, host string, up HostUpsert) *models.SnapshotPayload {
	s.mu.Lock()

	snap, ok := s.snaps[key.String()]
	if !ok {
		// Seed generated_at from zero so the caller's timestamp lands below;
		// stamping the store clock here would out-date the first upsert.
		snap = s.newSnapshotLocked(key, time.Time{})
		s.snaps[key.String()] = snap
	}

	switch key.Scope {
	case models.ScopeVMs:
		if up.VMs != nil {
			snap.VMs[host] = up.VMs
		} else if _, exists := snap.VMs[host]; !exists && up.Status.State == models.SnapshotHostStale {
			// Keep the slot visible even though the host never produced data.
			snap.VMs[host] = []models.VMRecord{}
		}
	case models.ScopeHosts:
		if up.HostInfo != nil {
			s.replaceHostRecordLocked(snap, *up.HostInfo)
		} else if up.Status.State == models.SnapshotHostStale && !s.hasHostRecordLocked(snap, host) {
			s.replaceHostRecordLocked(snap, models.HostRecord{Host: host})
		}
	}

	snap.HostsStatus[host] = up.Status
	if up.GeneratedAt.After(snap.GeneratedAt) {
		snap.GeneratedAt = up.GeneratedAt
	}
	if up.Summary != nil {
		snap.Summary = up.Summary
	}
	snap.Stale = up.Stale
	snap.StaleReason = up.StaleReason

	cp := snap.Clone()
	s.mu.Unlock()

	s.persist(key, cp)
	cp.Source = models.SnapshotSourceMemory
	return cp
}

// GetSnapshot returns the in-memory snapshot, or rehydrates it from
// persistence on a miss. Rehydrated payloads are installed back into memory
// and tagged source=db on the returned copy.
func (s *SnapshotStore) GetSnapshot(key models.ScopeKey) *models.SnapshotPayload {
	s.mu.Lock()
	if snap, ok := s.snaps[key.String()]; ok {
		cp := snap.Clone()
		s.mu.Unlock()
		cp.Source = models.SnapshotSourceMemory
		return cp
	}
	s.mu.Unlock()

	blob, err := s.persistence.GetSnapshot(string(s.provider), string(key.Scope), key.HostsKey(), string(key.Level))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": s.provider,
			"scope":    key.Scope,
		}).Error("Failed to load snapshot from persistence")
		return nil
	}
	if blob == nil {
		return nil
	}

	var snap models.SnapshotPayload
	if err := json.Unmarshal(blob, &snap); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": s.provider,
			"scope":    key.Scope,
		}).Error("Persisted snapshot is malformed, ignoring")
		return nil
	}

	s.mu.Lock()
	// Another reader may have installed a fresher copy meanwhile.
	if existing, ok := s.snaps[key.String()]; ok {
		cp := existing.Clone()
		s.mu.Unlock()
		cp.Source = models.SnapshotSourceMemory
		return cp
	}
	installed := snap.Clone()
	s.snaps[key.String()] = installed
	s.mu.Unlock()

	cp := snap.Clone()
	cp.Source = models.SnapshotSourceDB
	return cp
}

func (s *SnapshotStore) newSnapshotLocked(key models.ScopeKey, generatedAt time.Time) *models.SnapshotPayload {
	snap := &models.SnapshotPayload{
		Provider:    s.provider,
		Scope:       key.Scope,
		Hosts:       append([]string(nil), key.Hosts...),
		Level:       key.Level,
		GeneratedAt: generatedAt,
		TotalHosts:  len(key.Hosts),
		HostsStatus: make(map[string]models.SnapshotHostStatus, len(key.Hosts)),
		Source:      models.SnapshotSourceMemory,
	}
	for _, h := range key.Hosts {
		snap.HostsStatus[h] = models.SnapshotHostStatus{State: models.SnapshotHostPending}
	}
	if key.Scope == models.ScopeVMs {
		snap.VMs = make(map[string][]models.VMRecord)
	}
	return snap
}

func (s *SnapshotStore) replaceHostRecordLocked(snap *models.SnapshotPayload, rec models.HostRecord) {
	for i := range snap.HostRecords {
		if snap.HostRecords[i].Host == rec.Host {
			snap.HostRecords[i] = rec
			return
		}
	}
	snap.HostRecords = append(snap.HostRecords, rec)
}

func (s *SnapshotStore) hasHostRecordLocked(snap *models.SnapshotPayload, host string) bool {
	for i := range snap.HostRecords {
		if snap.HostRecords[i].Host == host {
			return true
		}
	}
	return false
}

// persist mirrors the payload into the persistence bridge. Failures are
// logged and swallowed; the in-memory update already happened.
func (s *SnapshotStore) persist(key models.ScopeKey, snap *models.SnapshotPayload) {
	blob, err := json.Marshal(snap)
	if err != nil {
		log.WithError(err).Error("Failed to serialize snapshot for persistence")
		return
	}
	err = s.persistence.UpsertSnapshot(string(s.provider), string(key.Scope), key.HostsKey(), string(key.Level), blob, snap.GeneratedAt)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": s.provider,
			"scope":    key.Scope,
			"level":    key.Level,
		}).Error("Failed to persist snapshot")
	}
}
