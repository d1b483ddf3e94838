package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/models"
)

// Pruning policy: jobs are retained for 24h or until the store exceeds a
// soft cap, terminal and oldest first.
const (
	jobStoreMaxItems = 128
	jobStoreMaxAge   = 24 * time.Hour
)

// ErrActiveJobExists is returned by CreateJob when the scope already has a
// pending or running job. Callers consult GetActiveForScope first; the error
// closes the race window between check and create.
var ErrActiveJobExists = fmt.Errorf("an active job already exists for this scope")

// JobStore is the in-memory registry of jobs with a single-active-job index
// per scope key. All mutations happen under its lock; nothing here does I/O.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	active map[string]string // scope key -> job ID
	clock  func() time.Time
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*models.Job),
		active: make(map[string]string),
		clock:  time.Now,
	}
}

// Get returns a deep copy of a job with progress recomputed, or nil.
func (s *JobStore) Get(jobID string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	cp := job.Clone()
	cp.RecomputeProgress()
	return cp
}

// GetActiveForScope returns the active (pending or running) job for the
// scope, or nil. A terminal job still in the index is cleared lazily.
func (s *JobStore) GetActiveForScope(key models.ScopeKey) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, ok := s.active[key.String()]
	if !ok {
		return nil
	}
	job, ok := s.jobs[jobID]
	if !ok || !job.Status.IsActive() {
		delete(s.active, key.String())
		return nil
	}
	cp := job.Clone()
	cp.RecomputeProgress()
	return cp
}

// CreateJob registers a new pending job for the scope, with every host
// initialized to pending. Fails with ErrActiveJobExists when the scope is
// busy.
func (s *JobStore) CreateJob(key models.ScopeKey) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID, ok := s.active[key.String()]; ok {
		if job, exists := s.jobs[jobID]; exists && job.Status.IsActive() {
			return nil, ErrActiveJobExists
		}
		delete(s.active, key.String())
	}

	now := s.clock()
	job := &models.Job{
		JobID:           uuid.New().String(),
		ScopeKey:        key,
		Status:          models.JobStatusPending,
		CreatedAt:       now,
		LastHeartbeatAt: now,
		HostsStatus:     make(map[string]models.HostJobStatus, len(key.Hosts)),
	}
	for _, h := range key.Hosts {
		job.HostsStatus[h] = models.HostJobStatus{State: models.HostJobPending}
	}

	s.jobs[job.JobID] = job
	s.active[key.String()] = job.JobID
	s.pruneLocked(now)

	log.WithFields(log.Fields{
		"job_id": job.JobID,
		"scope":  key.Scope,
		"hosts":  len(key.Hosts),
		"level":  key.Level,
	}).Info("Inventory job created")

	cp := job.Clone()
	cp.RecomputeProgress()
	return cp, nil
}

// UpdateJob applies the mutator under the store lock and returns a copy with
// recomputed progress. Terminal jobs are never regressed: a mutation that
// tries to reopen a finished job is dropped (idempotent double-finalize).
// The mutator runs against a clone; nothing lands in the store until the
// result passes validation.
func (s *JobStore) UpdateJob(jobID string, mutate func(*models.Job)) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}

	next := job.Clone()
	mutate(next)
	if job.Status.IsTerminal() && !next.Status.IsTerminal() {
		// Finalized jobs stay finalized; the rejected mutation is discarded.
		return nil
	}
	next.LastHeartbeatAt = s.clock()
	next.RecomputeProgress()
	s.jobs[jobID] = next

	if !next.Status.IsActive() {
		if active, exists := s.active[next.ScopeKey.String()]; exists && active == jobID {
			delete(s.active, next.ScopeKey.String())
		}
	}

	return next.Clone()
}

// ListByStatus returns copies of all jobs whose status is in the given set,
// oldest first. The scheduler uses it to find pending work.
func (s *JobStore) ListByStatus(statuses ...models.JobStatus) []*models.Job {
	want := make(map[models.JobStatus]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if _, ok := want[job.Status]; ok {
			cp := job.Clone()
			cp.RecomputeProgress()
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// pruneLocked drops very old jobs, then trims over the soft cap (terminal
// jobs first, then oldest). Active jobs are never pruned.
func (s *JobStore) pruneLocked(now time.Time) {
	for id, job := range s.jobs {
		if now.Sub(job.CreatedAt) > jobStoreMaxAge && !job.Status.IsActive() {
			s.removeLocked(id, job)
		}
	}

	if len(s.jobs) <= jobStoreMaxItems {
		return
	}

	type candidate struct {
		id  string
		job *models.Job
	}
	var candidates []candidate
	for id, job := range s.jobs {
		if job.Status.IsActive() {
			continue
		}
		candidates = append(candidates, candidate{id, job})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].job.CreatedAt.Before(candidates[j].job.CreatedAt)
	})

	for _, c := range candidates {
		if len(s.jobs) <= jobStoreMaxItems {
			break
		}
		s.removeLocked(c.id, c.job)
	}
}

func (s *JobStore) removeLocked(id string, job *models.Job) {
	delete(s.jobs, id)
	if active, ok := s.active[job.ScopeKey.String()]; ok && active == id {
		delete(s.active, job.ScopeKey.String())
	}
}
