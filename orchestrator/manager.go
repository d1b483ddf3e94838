package orchestrator

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// warmupFloorMinutes is the minimum spacing between warmup checks.
const warmupFloorMinutes = 10

// Manager is the process-wide facade over every (provider, scope) engine.
// It owns the shared host-lock registry, the per-provider semaphores, and
// the warmup cron.
type Manager struct {
	cfg       *config.Config
	registry  *adapters.Registry
	hostLocks *HostLockRegistry
	cores     map[string]*Core
	cron      *cron.Cron

	// Last host list a Hyper-V VMS job ran against. The HOSTS warmup reuses
	// it so both scopes track the same cluster members.
	mu           sync.Mutex
	lastVMSHosts map[models.Provider][]string
}

// NewManager builds the engine fleet from configuration. Persistence may be
// nil for database-less deployments.
func NewManager(cfg *config.Config, registry *adapters.Registry, persistence SnapshotPersistence) *Manager {
	m := &Manager{
		cfg:          cfg,
		registry:     registry,
		hostLocks:    NewHostLockRegistry(),
		cores:        make(map[string]*Core),
		cron:         cron.New(),
		lastVMSHosts: make(map[models.Provider][]string),
	}

	for _, provider := range models.AllProviders {
		pc := cfg.Provider(string(provider))
		adapter, err := registry.Get(provider)
		if err != nil {
			continue
		}

		sem := semaphore.NewWeighted(int64(pc.JobMaxGlobal))
		for _, scope := range []models.Scope{models.ScopeVMs, models.ScopeHosts} {
			core := NewCore(provider, scope, pc, adapter, persistence, sem, m.hostLocks)
			m.cores[coreKey(provider, scope)] = core
		}

		m.wireHyperVHostCoupling(provider)
	}

	return m
}

// wireHyperVHostCoupling makes the Hyper-V HOSTS warmup follow the host list
// of the most recent VMS job. Hyper-V clusters report both inventories from
// the same WinRM endpoints, so a VMS refresh against an ad-hoc host list is
// the best signal for which hosts matter.
func (m *Manager) wireHyperVHostCoupling(provider models.Provider) {
	if provider != models.ProviderHyperV {
		return
	}

	vmsCore := m.cores[coreKey(provider, models.ScopeVMs)]
	hostsCore := m.cores[coreKey(provider, models.ScopeHosts)]
	if vmsCore == nil || hostsCore == nil {
		return
	}

	vmsCore.onJobCreated = func(hosts []string) {
		m.mu.Lock()
		m.lastVMSHosts[provider] = append([]string(nil), hosts...)
		m.mu.Unlock()
	}

	configured := hostsCore.defaultHosts
	hostsCore.defaultHosts = func() []string {
		m.mu.Lock()
		memo := m.lastVMSHosts[provider]
		m.mu.Unlock()
		if len(memo) > 0 {
			return memo
		}
		return configured()
	}
}

// Start registers the warmup schedule and starts the cron.
func (m *Manager) Start() {
	for key, core := range m.cores {
		if !core.Ready() {
			log.WithField("engine", key).Info("Provider not ready, warmup disabled")
			continue
		}

		minutes := core.cfg.RefreshIntervalMinutes
		if minutes < warmupFloorMinutes {
			minutes = warmupFloorMinutes
		}

		c := core
		spec := fmt.Sprintf("@every %ds", minutes*60)
		if _, err := m.cron.AddFunc(spec, c.WarmupTick); err != nil {
			log.WithError(err).WithField("engine", key).Error("Failed to schedule warmup")
			continue
		}

		log.WithFields(log.Fields{
			"engine":   key,
			"schedule": spec,
		}).Info("📋 Warmup scheduled")

		// Prime the snapshot immediately instead of waiting a full interval.
		go c.WarmupTick()
	}

	m.cron.Start()
	log.WithField("engines", len(m.cores)).Info("🚀 Orchestration manager started")
}

// Shutdown stops warmup and drains every engine.
func (m *Manager) Shutdown() {
	ctx := m.cron.Stop()
	<-ctx.Done()

	var wg sync.WaitGroup
	for _, core := range m.cores {
		wg.Add(1)
		go func(c *Core) {
			defer wg.Done()
			c.Shutdown()
		}(core)
	}
	wg.Wait()

	log.Info("Orchestration manager stopped")
}

// Core returns the engine for a (provider, scope) pair, or nil.
func (m *Manager) Core(provider models.Provider, scope models.Scope) *Core {
	return m.cores[coreKey(provider, scope)]
}

// TriggerRefresh routes a refresh request to the right engine.
func (m *Manager) TriggerRefresh(provider models.Provider, scope models.Scope, hosts []string, level models.Level, force bool) (*models.Job, error) {
	core := m.Core(provider, scope)
	if core == nil {
		return nil, fmt.Errorf("no engine for provider %s scope %s", provider, scope)
	}
	return core.TriggerRefresh(hosts, level, force)
}

// GetJob looks a job up within one engine. Jobs are scoped; a job ID from
// another provider/scope is simply not found.
func (m *Manager) GetJob(provider models.Provider, scope models.Scope, jobID string) (*models.Job, error) {
	core := m.Core(provider, scope)
	if core == nil {
		return nil, fmt.Errorf("no engine for provider %s scope %s", provider, scope)
	}
	return core.GetJob(jobID), nil
}

// GetSnapshot serves the latest snapshot for the host list.
func (m *Manager) GetSnapshot(provider models.Provider, scope models.Scope, hosts []string, level models.Level) (*models.SnapshotPayload, error) {
	core := m.Core(provider, scope)
	if core == nil {
		return nil, fmt.Errorf("no engine for provider %s scope %s", provider, scope)
	}
	return core.GetSnapshot(hosts, level), nil
}

func coreKey(provider models.Provider, scope models.Scope) string {
	return fmt.Sprintf("%s|%s", provider, scope)
}
