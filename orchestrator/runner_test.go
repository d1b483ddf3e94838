package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/models"
)

// fakeAdapter scripts per-host Collect outcomes.
type fakeAdapter struct {
	mu      sync.Mutex
	results map[string]*adapters.Result
	errs    map[string]error
	calls   []string
	delay   time.Duration
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		results: make(map[string]*adapters.Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeAdapter) Provider() models.Provider { return models.ProviderVMware }

func (f *fakeAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*adapters.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, host)
	if err, ok := f.errs[host]; ok {
		return nil, err
	}
	if res, ok := f.results[host]; ok {
		return res, nil
	}
	return &adapters.Result{VMs: []models.VMRecord{{ID: "vm-" + host, Name: "vm on " + host, Host: host}}}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testRunner builds a runner and its stores around the fake adapter.
func testRunner(adapter adapters.Adapter) (*JobRunner, *JobStore, *SnapshotStore, *HostHealthStore) {
	jobs := NewJobStore()
	snaps := NewSnapshotStore(models.ProviderVMware, nil)
	health := NewHostHealthStore()
	r := &JobRunner{
		settings: runnerSettings{
			provider:        models.ProviderVMware,
			maxPerScope:     2,
			hostTimeout:     5 * time.Second,
			jobMaxDuration:  time.Minute,
			refreshInterval: time.Hour,
		},
		adapter:   adapter,
		jobs:      jobs,
		snapshots: snaps,
		health:    health,
		hostLocks: NewHostLockRegistry(),
		ready:     func() bool { return true },
		clock:     time.Now,
	}
	return r, jobs, snaps, health
}

func TestRunnerAllHostsSucceed(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, snaps, _ := testRunner(adapter)

	key := testScopeKey("esx01", "esx02")
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Empty(t, got.Message)
	assert.Equal(t, 2, got.Progress.Done)
	assert.Equal(t, 2, adapter.callCount())

	snap := snaps.GetSnapshot(key)
	require.NotNil(t, snap)
	assert.Len(t, snap.VMs["esx01"], 1)
	assert.Len(t, snap.VMs["esx02"], 1)
	assert.True(t, snap.HasAnyData())

	// The scope is free for the next job.
	assert.Nil(t, jobs.GetActiveForScope(key))
}

func TestRunnerPartialFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.errs["esx02"] = adapters.Unreachablef("connection refused")
	r, jobs, snaps, health := testRunner(adapter)

	key := testScopeKey("esx01", "esx02")
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Equal(t, MessagePartial, got.Message)
	assert.Equal(t, models.HostJobError, got.HostsStatus["esx02"].State)
	assert.Equal(t, messageUnreachable, got.HostsStatus["esx02"].LastError)

	rec := health.Get("esx02")
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	require.NotNil(t, rec.CooldownUntil)

	snap := snaps.GetSnapshot(key)
	assert.Equal(t, models.SnapshotHostError, snap.HostsStatus["esx02"].State)
	assert.Equal(t, models.SnapshotHostOK, snap.HostsStatus["esx01"].State)
}

func TestRunnerAllFailNoDataIsFailed(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.errs["esx01"] = adapters.Unreachablef("connection refused")
	r, jobs, _, _ := testRunner(adapter)

	job, err := jobs.CreateJob(testScopeKey("esx01"))
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestRunnerAllFailWithPriorDataIsPartial(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, _, _ := testRunner(adapter)
	key := testScopeKey("esx01")

	// First run succeeds and leaves data behind.
	job1, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job1.JobID)
	require.Equal(t, models.JobStatusSucceeded, jobs.Get(job1.JobID).Status)

	// Second run fails everywhere, but the snapshot still has records.
	adapter.errs["esx01"] = adapters.Unreachablef("connection refused")
	job2, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job2.JobID)

	got := jobs.Get(job2.JobID)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Equal(t, MessagePartial, got.Message)
}

func TestRunnerTimeoutClassification(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.errs["esx01"] = context.DeadlineExceeded
	r, jobs, snaps, _ := testRunner(adapter)

	key := testScopeKey("esx01")
	job, err := jobs.CreateJob(key)
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.HostJobTimeout, got.HostsStatus["esx01"].State)
	assert.Equal(t, messageHostTimeout, got.HostsStatus["esx01"].LastError)

	snap := snaps.GetSnapshot(key)
	assert.Equal(t, models.SnapshotHostTimeout, snap.HostsStatus["esx01"].State)
}

func TestRunnerCooldownSkip(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, snaps, health := testRunner(adapter)
	key := testScopeKey("esx01", "esx02")
	now := time.Now()

	// esx01 recently succeeded and then failed: cooldown with fresh data.
	health.RecordSuccess("esx01", now.Add(-5*time.Minute))
	health.RecordFailure("esx01", now, "timeout", "host_timeout_exceeded")

	// esx02 has been failing with no success inside the refresh interval.
	oldSuccess := now.Add(-2 * time.Hour)
	health.RecordSuccess("esx02", oldSuccess)
	health.RecordFailure("esx02", now, "unreachable", "no route to host")

	job, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.HostJobSkippedCooldown, got.HostsStatus["esx01"].State)
	assert.Equal(t, models.HostJobStale, got.HostsStatus["esx02"].State)
	assert.Equal(t, MessageCooldownActive, got.HostsStatus["esx01"].LastError)
	assert.Equal(t, 0, adapter.callCount(), "hosts in cooldown are never collected")

	// Skipped hosts count as skipped, not errors; job succeeds with partial
	// visibility into the snapshot.
	assert.Equal(t, 2, got.Progress.Skipped)

	snap := snaps.GetSnapshot(key)
	assert.Equal(t, models.SnapshotHostSkippedCooldown, snap.HostsStatus["esx01"].State)
	assert.Equal(t, models.SnapshotHostStale, snap.HostsStatus["esx02"].State)
}

func TestRunnerCooldownRecovery(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, _, health := testRunner(adapter)
	key := testScopeKey("esx01")

	// Cooldown expired an hour ago; the host must be retried.
	past := time.Now().Add(-time.Hour)
	health.RecordFailure("esx01", past.Add(-20*time.Minute), "timeout", "host_timeout_exceeded")

	job, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Equal(t, models.HostJobOK, got.HostsStatus["esx01"].State)
	assert.Equal(t, 0, health.Get("esx01").ConsecutiveFailures)
}

func TestRunnerJobDeadlineExpires(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, _, _ := testRunner(adapter)
	r.settings.jobMaxDuration = 0 // every worker arrives past the deadline

	job, err := jobs.CreateJob(testScopeKey("esx01", "esx02", "esx03"))
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusExpired, got.Status)
	assert.Equal(t, MessageMaxDurationReached, got.Message)
	assert.Equal(t, 0, adapter.callCount())
}

func TestRunnerProviderNotReady(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, _, _ := testRunner(adapter)
	r.ready = func() bool { return false }

	job, err := jobs.CreateJob(testScopeKey("esx01"))
	require.NoError(t, err)

	r.Run(context.Background(), job.JobID)

	got := jobs.Get(job.JobID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, MessageProviderNotReady, got.Message)
	assert.Equal(t, 0, adapter.callCount())
}

func TestRunnerCarriesDataThroughFailure(t *testing.T) {
	adapter := newFakeAdapter()
	r, jobs, snaps, _ := testRunner(adapter)
	key := testScopeKey("esx01")

	job1, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job1.JobID)

	before := snaps.GetSnapshot(key)
	require.Len(t, before.VMs["esx01"], 1)

	adapter.errs["esx01"] = adapters.Unreachablef("connection refused")
	job2, err := jobs.CreateJob(key)
	require.NoError(t, err)
	r.Run(context.Background(), job2.JobID)

	after := snaps.GetSnapshot(key)
	assert.Equal(t, before.VMs["esx01"], after.VMs["esx01"], "failed attempt keeps the last good records")
	assert.Equal(t, models.SnapshotHostError, after.HostsStatus["esx01"].State)
}
