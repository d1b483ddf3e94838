// Package orchestrator implements the snapshot/job orchestration engine: the
// per-provider fleet of background workers that fan out over upstream hosts,
// call the inventory adapters, and publish coherent snapshots into shared
// stores.
package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/metrics"
	"github.com/virtops/inventoryd/models"
)

// ErrProviderNotReady is returned by TriggerRefresh when the provider is
// disabled or missing mandatory configuration. The HTTP layer renders it as
// a 409.
var ErrProviderNotReady = fmt.Errorf("provider is disabled or not configured")

// schedulerPollInterval is the scheduler's fallback wakeup when no job
// creation notifies it.
const schedulerPollInterval = 100 * time.Millisecond

// Core is one (provider, scope) orchestration engine. It exclusively owns
// its job, snapshot, and health stores; the global semaphore is shared with
// the sibling scope of the same provider and the host-lock registry with the
// whole process.
type Core struct {
	provider models.Provider
	scope    models.Scope
	cfg      *config.ProviderConfig

	adapter   adapters.Adapter
	jobs      *JobStore
	snapshots *SnapshotStore
	health    *HostHealthStore
	hostLocks *HostLockRegistry
	sem       *semaphore.Weighted

	// defaultHosts supplies the warmup host list; onJobCreated lets the
	// manager remember the last VMS host list for the Hyper-V HOSTS warmup
	// coupling.
	defaultHosts func() []string
	onJobCreated func(hosts []string)

	ctx            context.Context
	cancel         context.CancelFunc
	notify         chan struct{}
	schedulerOnce  sync.Once
	wg             sync.WaitGroup
	clock          func() time.Time
	runnerOverride func() *JobRunner // test seam
}

// NewCore wires one orchestration engine. sem is shared per provider,
// hostLocks per process.
func NewCore(provider models.Provider, scope models.Scope, cfg *config.ProviderConfig,
	adapter adapters.Adapter, persistence SnapshotPersistence,
	sem *semaphore.Weighted, hostLocks *HostLockRegistry) *Core {

	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		provider:  provider,
		scope:     scope,
		cfg:       cfg,
		adapter:   adapter,
		jobs:      NewJobStore(),
		snapshots: NewSnapshotStore(provider, persistence),
		health:    NewHostHealthStore(),
		hostLocks: hostLocks,
		sem:       sem,
		ctx:       ctx,
		cancel:    cancel,
		notify:    make(chan struct{}, 1),
		clock:     time.Now,
	}
	c.defaultHosts = func() []string { return cfg.Hosts }
	return c
}

// RefreshInterval returns the provider's refresh interval.
func (c *Core) RefreshInterval() time.Duration {
	return time.Duration(c.cfg.RefreshIntervalMinutes) * time.Minute
}

// Ready reports whether the provider may be collected from.
func (c *Core) Ready() bool {
	return c.cfg.IsEnabled() && c.cfg.IsConfigured()
}

// ScopeKeyFor canonicalizes a host list (defaulting to the configured one)
// into this core's scope key.
func (c *Core) ScopeKeyFor(hosts []string, level models.Level) models.ScopeKey {
	if len(hosts) == 0 {
		hosts = c.defaultHosts()
	}
	return models.NewScopeKey(c.scope, hosts, level)
}

// TriggerRefresh resolves a refresh request into one of: the already-active
// job, a synthesized cooldown-terminal job, or a freshly created job.
func (c *Core) TriggerRefresh(hosts []string, level models.Level, force bool) (*models.Job, error) {
	if !c.Ready() {
		return nil, ErrProviderNotReady
	}

	key := c.ScopeKeyFor(hosts, level)
	if len(key.Hosts) == 0 {
		return nil, fmt.Errorf("no hosts to refresh for provider %s", c.provider)
	}

	if active := c.jobs.GetActiveForScope(key); active != nil {
		return active, nil
	}

	if !force {
		if snap := c.snapshots.GetSnapshot(key); snap != nil {
			if c.clock().Sub(snap.GeneratedAt) < c.RefreshInterval() {
				return c.synthesizeCooldownJob(key, snap), nil
			}
		}
	}

	job, err := c.jobs.CreateJob(key)
	if err == ErrActiveJobExists {
		// Lost the race to a concurrent trigger; its job is ours too.
		if active := c.jobs.GetActiveForScope(key); active != nil {
			return active, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if c.onJobCreated != nil {
		c.onJobCreated(key.Hosts)
	}
	c.ensureScheduler()
	c.kickScheduler()
	return job, nil
}

// GetJob returns a copy of the job, or nil.
func (c *Core) GetJob(jobID string) *models.Job {
	return c.jobs.Get(jobID)
}

// GetSnapshot serves the latest snapshot for the host list, rehydrating from
// persistence on a memory miss. Nil means no snapshot exists anywhere.
func (c *Core) GetSnapshot(hosts []string, level models.Level) *models.SnapshotPayload {
	key := c.ScopeKeyFor(hosts, level)
	if len(key.Hosts) == 0 {
		return nil
	}
	return c.snapshots.GetSnapshot(key)
}

// WarmupTick enqueues a job when the snapshot is older than the refresh
// interval and nothing is running. Called periodically by the manager's
// cron; errors are logged, never raised.
func (c *Core) WarmupTick() {
	if !c.Ready() {
		return
	}

	hosts := c.defaultHosts()
	if len(hosts) == 0 {
		return
	}
	key := models.NewScopeKey(c.scope, hosts, models.LevelSummary)

	if snap := c.snapshots.GetSnapshot(key); snap != nil {
		if c.clock().Sub(snap.GeneratedAt) < c.RefreshInterval() {
			return
		}
	}
	if c.jobs.GetActiveForScope(key) != nil {
		return
	}

	job, err := c.jobs.CreateJob(key)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"provider": c.provider,
			"scope":    c.scope,
		}).Warn("Warmup could not create job")
		return
	}

	log.WithFields(log.Fields{
		"provider": c.provider,
		"scope":    c.scope,
		"job_id":   job.JobID,
	}).Info("🔥 Warmup triggered inventory refresh")

	if c.onJobCreated != nil {
		c.onJobCreated(key.Hosts)
	}
	c.ensureScheduler()
	c.kickScheduler()
}

// Shutdown signals the scheduler to exit and waits for in-flight runners.
func (c *Core) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// ensureScheduler lazily starts the singleton scheduler loop on first job
// creation.
func (c *Core) ensureScheduler() {
	c.schedulerOnce.Do(func() {
		c.wg.Add(1)
		go c.schedulerLoop()
	})
}

// kickScheduler wakes the loop without blocking; a pending wakeup is enough.
func (c *Core) kickScheduler() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// schedulerLoop picks pending jobs off the store and launches runners while
// the global semaphore has capacity. Wake sources: job creation, the polling
// tick, and runner completion (which re-kicks after releasing its slot).
func (c *Core) schedulerLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(schedulerPollInterval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"provider": c.provider,
		"scope":    c.scope,
	}).Debug("Scheduler loop started")

	for {
		select {
		case <-c.ctx.Done():
			log.WithFields(log.Fields{
				"provider": c.provider,
				"scope":    c.scope,
			}).Info("Scheduler loop stopped")
			return
		case <-c.notify:
		case <-ticker.C:
		}
		c.dispatchPending()
	}
}

// dispatchPending launches a runner for each pending job until the
// semaphore runs dry. A job is claimed (marked running) before its runner
// goroutine starts, so a second pass can never dispatch it again.
func (c *Core) dispatchPending() {
	for _, job := range c.jobs.ListByStatus(models.JobStatusPending) {
		if !c.sem.TryAcquire(1) {
			return
		}

		jobID := job.JobID
		claimed := c.jobs.UpdateJob(jobID, func(j *models.Job) {
			if j.Status == models.JobStatusPending {
				j.Status = models.JobStatusRunning
			}
		})
		if claimed == nil || claimed.Status != models.JobStatusRunning {
			// Pruned or finished since listing; give the slot back.
			c.sem.Release(1)
			continue
		}

		c.wg.Add(1)
		metrics.RunnersActive.WithLabelValues(string(c.provider)).Inc()
		go func() {
			defer c.wg.Done()
			defer func() {
				c.sem.Release(1)
				metrics.RunnersActive.WithLabelValues(string(c.provider)).Dec()
				c.kickScheduler()
			}()
			c.newRunner().Run(c.ctx, jobID)
		}()
	}
}

// newRunner builds a runner bound to the current provider settings.
func (c *Core) newRunner() *JobRunner {
	if c.runnerOverride != nil {
		return c.runnerOverride()
	}
	return &JobRunner{
		settings: runnerSettings{
			provider:        c.provider,
			maxPerScope:     c.cfg.JobMaxPerScope,
			hostTimeout:     time.Duration(c.cfg.JobHostTimeoutSeconds) * time.Second,
			jobMaxDuration:  time.Duration(c.cfg.JobMaxDurationSeconds) * time.Second,
			refreshInterval: c.RefreshInterval(),
		},
		adapter:   c.adapter,
		jobs:      c.jobs,
		snapshots: c.snapshots,
		health:    c.health,
		hostLocks: c.hostLocks,
		ready:     c.Ready,
		clock:     c.clock,
	}
}

// synthesizeCooldownJob builds the informational terminal job returned while
// a fresh snapshot makes a new collection pointless. It is never stored;
// consecutive calls within the window return an identical job.
func (c *Core) synthesizeCooldownJob(key models.ScopeKey, snap *models.SnapshotPayload) *models.Job {
	h := fnv.New64a()
	h.Write([]byte(key.String())) //nolint:errcheck
	jobID := fmt.Sprintf("cooldown-%x-%d", h.Sum64(), snap.GeneratedAt.Unix())

	generated := snap.GeneratedAt
	cooldownUntil := generated.Add(c.RefreshInterval())

	job := &models.Job{
		JobID:           jobID,
		ScopeKey:        key,
		Status:          models.JobStatusSucceeded,
		Message:         MessageCooldownActive,
		CreatedAt:       generated,
		StartedAt:       &generated,
		FinishedAt:      &generated,
		LastHeartbeatAt: generated,
		CooldownUntil:   &cooldownUntil,
		HostsStatus:     make(map[string]models.HostJobStatus, len(key.Hosts)),
	}
	for _, host := range key.Hosts {
		finished := generated
		job.HostsStatus[host] = models.HostJobStatus{
			State:          models.HostJobOK,
			LastFinishedAt: &finished,
		}
	}
	job.RecomputeProgress()
	return job
}
