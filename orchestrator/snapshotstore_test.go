package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtops/inventoryd/models"
)

// memPersistence records upserts and serves canned blobs for rehydration
// tests.
type memPersistence struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	upserts int
	failing bool
}

func newMemPersistence() *memPersistence {
	return &memPersistence{blobs: make(map[string][]byte)}
}

func (p *memPersistence) key(provider, scope, hostsKey, level string) string {
	return fmt.Sprintf("%s/%s/%s/%s", provider, scope, hostsKey, level)
}

func (p *memPersistence) UpsertSnapshot(provider, scope, hostsKey, level string, payload []byte, generatedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return fmt.Errorf("database unavailable")
	}
	p.upserts++
	p.blobs[p.key(provider, scope, hostsKey, level)] = payload
	return nil
}

func (p *memPersistence) GetSnapshot(provider, scope, hostsKey, level string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return nil, fmt.Errorf("database unavailable")
	}
	return p.blobs[p.key(provider, scope, hostsKey, level)], nil
}

func okStatus(at time.Time) models.SnapshotHostStatus {
	return models.SnapshotHostStatus{State: models.SnapshotHostOK, LastSuccessAt: &at}
}

func TestSnapshotStoreUpsertAndCarryOver(t *testing.T) {
	store := NewSnapshotStore(models.ProviderVMware, nil)
	key := testScopeKey("esx01", "esx02")

	now := time.Now()
	vms := []models.VMRecord{{ID: "vm-1", Name: "web01", PowerState: "poweredOn"}}
	snap := store.UpsertHost(key, "esx01", HostUpsert{
		VMs:         vms,
		Status:      okStatus(now),
		GeneratedAt: now,
	})
	assert.Equal(t, vms, snap.VMs["esx01"])
	assert.Equal(t, models.SnapshotHostOK, snap.HostsStatus["esx01"].State)

	// A later failed attempt carries the VM list forward untouched.
	later := now.Add(time.Minute)
	snap = store.UpsertHost(key, "esx01", HostUpsert{
		Status:      models.SnapshotHostStatus{State: models.SnapshotHostError, LastSuccessAt: &now},
		GeneratedAt: later,
	})
	assert.Equal(t, vms, snap.VMs["esx01"], "nil VMs must preserve previous data")
	assert.Equal(t, models.SnapshotHostError, snap.HostsStatus["esx01"].State)
}

func TestSnapshotStoreGeneratedAtIsMonotonic(t *testing.T) {
	store := NewSnapshotStore(models.ProviderVMware, nil)
	key := testScopeKey("esx01")

	t1 := time.Now()
	t0 := t1.Add(-time.Hour)

	snap := store.UpsertHost(key, "esx01", HostUpsert{Status: okStatus(t1), GeneratedAt: t1})
	assert.Equal(t, t1, snap.GeneratedAt)

	// An out-of-order upsert never rolls generated_at back.
	snap = store.UpsertHost(key, "esx01", HostUpsert{Status: okStatus(t0), GeneratedAt: t0})
	assert.Equal(t, t1, snap.GeneratedAt)
}

func TestSnapshotStoreStalePlaceholders(t *testing.T) {
	store := NewSnapshotStore(models.ProviderHyperV, nil)
	vmsKey := testScopeKey("hv01")
	now := time.Now()

	snap := store.UpsertHost(vmsKey, "hv01", HostUpsert{
		Status:      models.SnapshotHostStatus{State: models.SnapshotHostStale},
		GeneratedAt: now,
		Stale:       true,
		StaleReason: MessageCooldownActive,
	})
	require.Contains(t, snap.VMs, "hv01", "stale host with no data gets an empty slot")
	assert.Empty(t, snap.VMs["hv01"])
	assert.True(t, snap.Stale)
	assert.False(t, snap.HasAnyData())

	hostsKey := models.NewScopeKey(models.ScopeHosts, []string{"hv01"}, models.LevelSummary)
	snap = store.UpsertHost(hostsKey, "hv01", HostUpsert{
		Status:      models.SnapshotHostStatus{State: models.SnapshotHostStale},
		GeneratedAt: now,
	})
	require.Len(t, snap.HostRecords, 1)
	assert.Equal(t, "hv01", snap.HostRecords[0].Host)
}

func TestSnapshotStoreHostRecordReplacement(t *testing.T) {
	store := NewSnapshotStore(models.ProviderOVirt, nil)
	key := models.NewScopeKey(models.ScopeHosts, []string{"kvm01", "kvm02"}, models.LevelSummary)
	now := time.Now()

	store.UpsertHost(key, "kvm01", HostUpsert{
		HostInfo:    &models.HostRecord{Host: "kvm01", VMCount: 5},
		Status:      okStatus(now),
		GeneratedAt: now,
	})
	store.UpsertHost(key, "kvm02", HostUpsert{
		HostInfo:    &models.HostRecord{Host: "kvm02", VMCount: 3},
		Status:      okStatus(now),
		GeneratedAt: now,
	})
	snap := store.UpsertHost(key, "kvm01", HostUpsert{
		HostInfo:    &models.HostRecord{Host: "kvm01", VMCount: 7},
		Status:      okStatus(now),
		GeneratedAt: now,
	})

	require.Len(t, snap.HostRecords, 2, "re-upsert replaces, never appends")
	for _, rec := range snap.HostRecords {
		if rec.Host == "kvm01" {
			assert.Equal(t, 7, rec.VMCount)
		}
	}
}

func TestSnapshotStorePersistsEveryUpsert(t *testing.T) {
	p := newMemPersistence()
	store := NewSnapshotStore(models.ProviderVMware, p)
	key := testScopeKey("esx01")
	now := time.Now()

	store.InitSnapshot(key)
	store.UpsertHost(key, "esx01", HostUpsert{Status: okStatus(now), GeneratedAt: now})

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 2, p.upserts)

	var stored models.SnapshotPayload
	require.NoError(t, json.Unmarshal(p.blobs[p.key("vmware", "vms", "esx01", "summary")], &stored))
	assert.Equal(t, models.SnapshotHostOK, stored.HostsStatus["esx01"].State)
}

func TestSnapshotStoreRehydratesFromPersistence(t *testing.T) {
	p := newMemPersistence()
	key := testScopeKey("esx01")
	now := time.Now().UTC().Truncate(time.Second)

	seed := &models.SnapshotPayload{
		Provider:    models.ProviderVMware,
		Scope:       models.ScopeVMs,
		Hosts:       key.Hosts,
		Level:       key.Level,
		GeneratedAt: now,
		TotalHosts:  1,
		HostsStatus: map[string]models.SnapshotHostStatus{"esx01": okStatus(now)},
		VMs:         map[string][]models.VMRecord{"esx01": {{ID: "vm-1", Name: "web01"}}},
	}
	blob, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, p.UpsertSnapshot("vmware", "vms", "esx01", "summary", blob, now))

	// Fresh store, empty memory: the read must come from persistence.
	store := NewSnapshotStore(models.ProviderVMware, p)
	snap := store.GetSnapshot(key)
	require.NotNil(t, snap)
	assert.Equal(t, models.SnapshotSourceDB, snap.Source)
	assert.Equal(t, "web01", snap.VMs["esx01"][0].Name)

	// Second read is served from the installed in-memory copy.
	snap = store.GetSnapshot(key)
	assert.Equal(t, models.SnapshotSourceMemory, snap.Source)
}

func TestSnapshotStoreIgnoresMalformedPersistedBlob(t *testing.T) {
	p := newMemPersistence()
	require.NoError(t, p.UpsertSnapshot("vmware", "vms", "esx01", "summary", []byte("{not json"), time.Now()))

	store := NewSnapshotStore(models.ProviderVMware, p)
	assert.Nil(t, store.GetSnapshot(testScopeKey("esx01")))
}

func TestSnapshotStorePersistenceFailureDoesNotUnwind(t *testing.T) {
	p := newMemPersistence()
	p.failing = true
	store := NewSnapshotStore(models.ProviderVMware, p)
	key := testScopeKey("esx01")
	now := time.Now()

	snap := store.UpsertHost(key, "esx01", HostUpsert{Status: okStatus(now), GeneratedAt: now})
	require.NotNil(t, snap, "in-memory update survives a persistence outage")
	assert.Equal(t, models.SnapshotHostOK, snap.HostsStatus["esx01"].State)
}
