package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtops/inventoryd/models"
)

func testScopeKey(hosts ...string) models.ScopeKey {
	return models.NewScopeKey(models.ScopeVMs, hosts, models.LevelSummary)
}

func TestJobStoreSingleActivePerScope(t *testing.T) {
	store := NewJobStore()
	key := testScopeKey("esx01", "esx02")

	job, err := store.CreateJob(key)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Len(t, job.HostsStatus, 2)

	_, err = store.CreateJob(key)
	assert.Equal(t, ErrActiveJobExists, err)

	// A different level is a different scope and may run in parallel.
	detail := models.NewScopeKey(models.ScopeVMs, []string{"esx01", "esx02"}, models.LevelDetail)
	_, err = store.CreateJob(detail)
	assert.NoError(t, err)

	active := store.GetActiveForScope(key)
	require.NotNil(t, active)
	assert.Equal(t, job.JobID, active.JobID)
}

func TestJobStoreTerminalFreesScope(t *testing.T) {
	store := NewJobStore()
	key := testScopeKey("esx01")

	job, err := store.CreateJob(key)
	require.NoError(t, err)

	store.UpdateJob(job.JobID, func(j *models.Job) {
		j.Status = models.JobStatusSucceeded
	})

	assert.Nil(t, store.GetActiveForScope(key))

	replacement, err := store.CreateJob(key)
	require.NoError(t, err)
	assert.NotEqual(t, job.JobID, replacement.JobID)
}

func TestJobStoreTerminalJobsNeverReopen(t *testing.T) {
	store := NewJobStore()
	job, err := store.CreateJob(testScopeKey("esx01"))
	require.NoError(t, err)

	store.UpdateJob(job.JobID, func(j *models.Job) {
		j.Status = models.JobStatusFailed
	})
	got := store.UpdateJob(job.JobID, func(j *models.Job) {
		j.Status = models.JobStatusRunning
	})

	assert.Nil(t, got, "reopening mutation must be dropped")
	assert.Equal(t, models.JobStatusFailed, store.Get(job.JobID).Status,
		"the stored job keeps its terminal status")

	// The scope stays free: the rejected reopen left no phantom active job.
	assert.Nil(t, store.GetActiveForScope(testScopeKey("esx01")))
	_, err = store.CreateJob(testScopeKey("esx01"))
	assert.NoError(t, err)
}

func TestJobStoreProgressRecomputedOnRead(t *testing.T) {
	store := NewJobStore()
	job, err := store.CreateJob(testScopeKey("h1", "h2", "h3", "h4"))
	require.NoError(t, err)

	store.UpdateJob(job.JobID, func(j *models.Job) {
		j.HostsStatus["h1"] = models.HostJobStatus{State: models.HostJobOK}
		j.HostsStatus["h2"] = models.HostJobStatus{State: models.HostJobTimeout}
		j.HostsStatus["h3"] = models.HostJobStatus{State: models.HostJobSkippedCooldown}
	})

	got := store.Get(job.JobID)
	assert.Equal(t, 4, got.Progress.TotalHosts)
	assert.Equal(t, 1, got.Progress.Done)
	assert.Equal(t, 1, got.Progress.Error)
	assert.Equal(t, 1, got.Progress.Skipped)
	assert.Equal(t, 1, got.Progress.Pending)
}

func TestJobStoreReturnsCopies(t *testing.T) {
	store := NewJobStore()
	job, err := store.CreateJob(testScopeKey("esx01"))
	require.NoError(t, err)

	job.HostsStatus["esx01"] = models.HostJobStatus{State: models.HostJobError}
	job.Status = models.JobStatusFailed

	fresh := store.Get(job.JobID)
	assert.Equal(t, models.JobStatusPending, fresh.Status)
	assert.Equal(t, models.HostJobPending, fresh.HostsStatus["esx01"].State)
}

func TestJobStorePruneByAge(t *testing.T) {
	store := NewJobStore()
	now := time.Now()
	store.clock = func() time.Time { return now }

	old, err := store.CreateJob(testScopeKey("old-host"))
	require.NoError(t, err)
	store.UpdateJob(old.JobID, func(j *models.Job) {
		j.Status = models.JobStatusSucceeded
	})

	// Next create happens 25h later; the terminal job ages out.
	now = now.Add(25 * time.Hour)
	_, err = store.CreateJob(testScopeKey("new-host"))
	require.NoError(t, err)

	assert.Nil(t, store.Get(old.JobID))
	assert.Equal(t, 1, store.Len())
}

func TestJobStorePruneSoftCapSparesActive(t *testing.T) {
	store := NewJobStore()
	now := time.Now()
	store.clock = func() time.Time { return now }

	activeJob, err := store.CreateJob(testScopeKey("active-host"))
	require.NoError(t, err)

	for i := 0; i < jobStoreMaxItems+10; i++ {
		now = now.Add(time.Second)
		job, err := store.CreateJob(testScopeKey(fmt.Sprintf("host-%d", i)))
		require.NoError(t, err)
		store.UpdateJob(job.JobID, func(j *models.Job) {
			j.Status = models.JobStatusSucceeded
		})
	}

	assert.LessOrEqual(t, store.Len(), jobStoreMaxItems+1)
	assert.NotNil(t, store.Get(activeJob.JobID), "active jobs are never pruned")
}
