package models

import "time"

// JobStatus is the lifecycle state of a collection job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusExpired   JobStatus = "expired"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}

// IsActive reports whether a job in this status still occupies the
// single-active-job slot for its scope.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// HostJobState is the per-host state inside one job.
type HostJobState string

const (
	HostJobPending         HostJobState = "pending"
	HostJobRunning         HostJobState = "running"
	HostJobOK              HostJobState = "ok"
	HostJobError           HostJobState = "error"
	HostJobTimeout         HostJobState = "timeout"
	HostJobSkippedCooldown HostJobState = "skipped_cooldown"
	HostJobStale           HostJobState = "stale"
)

// HostJobStatus records the progress of one host within one job.
type HostJobStatus struct {
	State          HostJobState `json:"state"`
	Attempt        int          `json:"attempt"`
	LastStartedAt  *time.Time   `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time   `json:"last_finished_at,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CooldownUntil  *time.Time   `json:"cooldown_until,omitempty"`
}

// JobProgress is derived from the per-host statuses; the store recomputes it
// on every read so it can never drift from HostsStatus.
type JobProgress struct {
	TotalHosts int `json:"total_hosts"`
	Pending    int `json:"pending"`
	Done       int `json:"done"`
	Error      int `json:"error"`
	Skipped    int `json:"skipped"`
}

// Job is one collection run over the hosts of a ScopeKey.
type Job struct {
	JobID           string                   `json:"job_id"`
	ScopeKey        ScopeKey                 `json:"scope_key"`
	Status          JobStatus                `json:"status"`
	CreatedAt       time.Time                `json:"created_at"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	FinishedAt      *time.Time               `json:"finished_at,omitempty"`
	LastHeartbeatAt time.Time                `json:"last_heartbeat_at"`
	Message         string                   `json:"message,omitempty"`
	CooldownUntil   *time.Time               `json:"cooldown_until,omitempty"`
	HostsStatus     map[string]HostJobStatus `json:"hosts_status"`
	Progress        JobProgress              `json:"progress"`
}

// Clone returns a deep copy so callers can never mutate store state.
func (j *Job) Clone() *Job {
	cp := *j
	cp.HostsStatus = make(map[string]HostJobStatus, len(j.HostsStatus))
	for h, st := range j.HostsStatus {
		cp.HostsStatus[h] = st
	}
	cp.ScopeKey.Hosts = append([]string(nil), j.ScopeKey.Hosts...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.CooldownUntil != nil {
		t := *j.CooldownUntil
		cp.CooldownUntil = &t
	}
	return &cp
}

// RecomputeProgress rebuilds the progress counters from HostsStatus.
func (j *Job) RecomputeProgress() {
	p := JobProgress{TotalHosts: len(j.HostsStatus)}
	for _, st := range j.HostsStatus {
		switch st.State {
		case HostJobPending, HostJobRunning:
			p.Pending++
		case HostJobOK:
			p.Done++
		case HostJobError, HostJobTimeout:
			p.Error++
		case HostJobSkippedCooldown, HostJobStale:
			p.Skipped++
		}
	}
	j.Progress = p
}
