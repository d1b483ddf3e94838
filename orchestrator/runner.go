package orchestrator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/metrics"
	"github.com/virtops/inventoryd/models"
)

// Final job messages surfaced to API consumers.
const (
	MessagePartial            = "partial"
	MessageCooldownActive     = "cooldown_active"
	MessageMaxDurationReached = "job_max_duration_reached"
	MessageProviderNotReady   = "provider_not_ready"
	messageHostTimeout        = "host_timeout_exceeded"
	messageUnreachable        = "unreachable"
)

// runnerSettings are the provider-configured knobs one runner executes
// under.
type runnerSettings struct {
	provider        models.Provider
	maxPerScope     int
	hostTimeout     time.Duration
	jobMaxDuration  time.Duration
	refreshInterval time.Duration
}

// JobRunner executes one job: fan out over the scope's hosts, enforce
// cooldowns and timeouts, update the stores, finalize. Adapter errors never
// propagate out of a runner; they land on host statuses and health records.
type JobRunner struct {
	settings  runnerSettings
	adapter   adapters.Adapter
	jobs      *JobStore
	snapshots *SnapshotStore
	health    *HostHealthStore
	hostLocks *HostLockRegistry
	ready     func() bool
	clock     func() time.Time
}

// hostOutcome is what a worker reports back for finalization accounting.
type hostOutcome int

const (
	outcomeOK hostOutcome = iota
	outcomeError
	outcomeSkipped
	outcomeExpired
)

// Run executes the job to a terminal state. The caller owns the global
// semaphore slot and releases it when Run returns.
func (r *JobRunner) Run(ctx context.Context, jobID string) {
	job := r.jobs.Get(jobID)
	if job == nil {
		log.WithField("job_id", jobID).Warn("Job vanished before runner start")
		return
	}

	if !r.ready() {
		r.jobs.UpdateJob(jobID, func(j *models.Job) {
			now := r.clock()
			j.Status = models.JobStatusFailed
			j.Message = MessageProviderNotReady
			j.FinishedAt = &now
		})
		metrics.JobsFinished.WithLabelValues(string(r.settings.provider), string(job.ScopeKey.Scope), string(models.JobStatusFailed)).Inc()
		return
	}

	started := r.clock()
	deadline := started.Add(r.settings.jobMaxDuration)

	r.jobs.UpdateJob(jobID, func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.StartedAt = &started
	})
	r.snapshots.InitSnapshot(job.ScopeKey)
	metrics.JobsStarted.WithLabelValues(string(r.settings.provider), string(job.ScopeKey.Scope)).Inc()

	log.WithFields(log.Fields{
		"job_id":   jobID,
		"provider": r.settings.provider,
		"scope":    job.ScopeKey.Scope,
		"hosts":    len(job.ScopeKey.Hosts),
		"deadline": deadline.Format(time.RFC3339),
	}).Info("🚀 Job runner started")

	var (
		mu       sync.Mutex
		okCount  int
		errCount int
	)

	workers := r.settings.maxPerScope
	if workers > len(job.ScopeKey.Hosts) {
		workers = len(job.ScopeKey.Hosts)
	}
	if workers < 1 {
		workers = 1
	}

	hostCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range hostCh {
				outcome := r.processHost(ctx, job.ScopeKey, jobID, host, deadline)
				mu.Lock()
				switch outcome {
				case outcomeOK:
					okCount++
				case outcomeError:
					errCount++
				}
				mu.Unlock()
			}
		}()
	}

	for _, host := range job.ScopeKey.Hosts {
		hostCh <- host
	}
	close(hostCh)
	wg.Wait()

	r.finalize(job.ScopeKey, jobID, deadline, okCount, errCount)
}

// processHost runs the per-host state machine:
// PENDING -> {SKIPPED_COOLDOWN, STALE, OK, ERROR, TIMEOUT}.
func (r *JobRunner) processHost(ctx context.Context, key models.ScopeKey, jobID, host string, deadline time.Time) hostOutcome {
	now := r.clock()

	// Workers entering after the job deadline short-circuit without touching
	// the host; finalization treats the slot as expired.
	if !now.Before(deadline) {
		return outcomeExpired
	}

	// Cooldown gate, evaluated before taking the host lock.
	health := r.health.Get(host)
	if health.InCooldown(now) {
		state := models.SnapshotHostStale
		jobState := models.HostJobStale
		if health.LastSuccessAt != nil && now.Sub(*health.LastSuccessAt) <= r.settings.refreshInterval {
			state = models.SnapshotHostSkippedCooldown
			jobState = models.HostJobSkippedCooldown
		}

		r.upsertHostStatus(key, host, jobID, state, health, now, nil)
		r.jobs.UpdateJob(jobID, func(j *models.Job) {
			st := j.HostsStatus[host]
			st.State = jobState
			st.Attempt++
			st.LastError = MessageCooldownActive
			st.CooldownUntil = health.CooldownUntil
			finished := now
			st.LastFinishedAt = &finished
			j.HostsStatus[host] = st
		})
		metrics.HostCollections.WithLabelValues(string(r.settings.provider), string(state)).Inc()

		log.WithFields(log.Fields{
			"job_id": jobID,
			"host":   host,
			"state":  state,
		}).Info("Host skipped due to active cooldown")
		return outcomeSkipped
	}

	// The per-host lock serializes every outgoing call to the same physical
	// host across all engines in the process.
	lock := r.hostLocks.Get(host)
	lock.Lock()

	collectStart := r.clock()
	collectCtx, cancel := context.WithDeadline(ctx, collectStart.Add(r.settings.hostTimeout))
	result, err := r.adapter.Collect(collectCtx, host, key.Scope, key.Level)
	cancel()
	elapsed := r.clock().Sub(collectStart)

	var state models.SnapshotHostState
	var jobState models.HostJobState
	var lastError string

	if err == nil && elapsed > r.settings.hostTimeout {
		// The adapter ignored the deadline and answered late; treat it as a
		// timeout so the host earns its cooldown.
		err = adapters.Timeoutf(messageHostTimeout)
		result = nil
	}

	if err == nil {
		state = models.SnapshotHostOK
		jobState = models.HostJobOK
		r.health.RecordSuccess(host, r.clock())
	} else {
		kind := adapters.KindOf(err)
		switch kind {
		case adapters.ErrTimeout:
			state = models.SnapshotHostTimeout
			jobState = models.HostJobTimeout
			lastError = messageHostTimeout
		case adapters.ErrUnreachable:
			state = models.SnapshotHostError
			jobState = models.HostJobError
			lastError = messageUnreachable
		default:
			state = models.SnapshotHostError
			jobState = models.HostJobError
			lastError = adapters.TruncateMessage(err.Error())
		}
		r.health.RecordFailure(host, r.clock(), string(kind), lastError)

		if kind == adapters.ErrAuthFailed {
			log.WithFields(log.Fields{
				"job_id":   jobID,
				"provider": r.settings.provider,
				"host":     host,
			}).Error("❌ Authentication rejected by upstream host")
		}
		result = nil
	}

	lock.Unlock()

	// Post-lock reclassification: a failed host whose last success predates
	// the refresh interval still has data worth keeping, surfaced as STALE.
	now = r.clock()
	health = r.health.Get(host)
	if state == models.SnapshotHostError && health.LastSuccessAt != nil &&
		now.Sub(*health.LastSuccessAt) > r.settings.refreshInterval {
		state = models.SnapshotHostStale
		jobState = models.HostJobStale
	}

	r.upsertHostStatus(key, host, jobID, state, health, now, result)

	startedAt := collectStart
	finishedAt := now
	r.jobs.UpdateJob(jobID, func(j *models.Job) {
		st := j.HostsStatus[host]
		st.State = jobState
		st.Attempt++
		st.LastStartedAt = &startedAt
		st.LastFinishedAt = &finishedAt
		st.LastError = lastError
		st.CooldownUntil = health.CooldownUntil
		j.HostsStatus[host] = st
	})
	metrics.HostCollections.WithLabelValues(string(r.settings.provider), string(state)).Inc()

	if state == models.SnapshotHostOK {
		return outcomeOK
	}
	return outcomeError
}

// upsertHostStatus publishes the host result into the snapshot store,
// carrying previous data forward when the attempt produced none.
func (r *JobRunner) upsertHostStatus(key models.ScopeKey, host, jobID string, state models.SnapshotHostState, health *models.HostHealthRecord, now time.Time, result *adapters.Result) {
	status := models.SnapshotHostStatus{
		State:            state,
		LastSuccessAt:    health.LastSuccessAt,
		LastErrorAt:      health.LastErrorAt,
		CooldownUntil:    health.CooldownUntil,
		LastJobID:        jobID,
		LastErrorType:    health.LastErrorType,
		LastErrorMessage: health.LastErrorMessage,
	}

	up := HostUpsert{
		Status:      status,
		GeneratedAt: now,
	}
	if result != nil {
		up.VMs = result.VMs
		up.HostInfo = result.HostInfo
		up.Summary = result.Summary
	}
	if state == models.SnapshotHostStale {
		up.Stale = true
		up.StaleReason = MessageCooldownActive
	}

	snap := r.snapshots.UpsertHost(key, host, up)
	metrics.SnapshotTimestamp.WithLabelValues(string(r.settings.provider), string(key.Scope)).Set(float64(snap.GeneratedAt.Unix()))
}

// finalize computes the terminal status.
//
// A run with zero fresh successes still finalizes as succeeded/partial when
// the snapshot holds previously-good data: consumers keep working off the
// old records and can escalate on the message.
func (r *JobRunner) finalize(key models.ScopeKey, jobID string, deadline time.Time, okCount, errCount int) {
	finished := r.clock()

	var status models.JobStatus
	var message string

	switch {
	case !finished.Before(deadline):
		status = models.JobStatusExpired
		message = MessageMaxDurationReached
	case okCount == 0:
		snap := r.snapshots.GetSnapshot(key)
		if snap != nil && snap.HasAnyData() {
			status = models.JobStatusSucceeded
			message = MessagePartial
		} else {
			status = models.JobStatusFailed
		}
	case errCount > 0:
		status = models.JobStatusSucceeded
		message = MessagePartial
	default:
		status = models.JobStatusSucceeded
	}

	r.jobs.UpdateJob(jobID, func(j *models.Job) {
		j.Status = status
		j.Message = message
		j.FinishedAt = &finished
	})
	metrics.JobsFinished.WithLabelValues(string(r.settings.provider), string(key.Scope), string(status)).Inc()

	log.WithFields(log.Fields{
		"job_id":   jobID,
		"provider": r.settings.provider,
		"scope":    key.Scope,
		"status":   status,
		"message":  message,
		"hosts_ok": okCount,
		"hosts_ko": errCount,
	}).Info("✅ Job runner finished")
}
