package models

import "time"

// SnapshotHostState classifies the freshness of one host's slot in a
// snapshot.
type SnapshotHostState string

const (
	SnapshotHostPending         SnapshotHostState = "pending"
	SnapshotHostOK              SnapshotHostState = "ok"
	SnapshotHostError           SnapshotHostState = "error"
	SnapshotHostTimeout         SnapshotHostState = "timeout"
	SnapshotHostSkippedCooldown SnapshotHostState = "skipped_cooldown"
	SnapshotHostStale           SnapshotHostState = "stale"
)

// SnapshotHostStatus tracks per-host collection outcome inside a snapshot.
type SnapshotHostStatus struct {
	State            SnapshotHostState `json:"state"`
	LastSuccessAt    *time.Time        `json:"last_success_at,omitempty"`
	LastErrorAt      *time.Time        `json:"last_error_at,omitempty"`
	CooldownUntil    *time.Time        `json:"cooldown_until,omitempty"`
	LastJobID        string            `json:"last_job_id,omitempty"`
	LastErrorType    string            `json:"last_error_type,omitempty"`
	LastErrorMessage string            `json:"last_error_message,omitempty"`
}

// SnapshotSource reports where a returned snapshot was served from.
type SnapshotSource string

const (
	SnapshotSourceMemory SnapshotSource = "memory"
	SnapshotSourceDB     SnapshotSource = "db"
)

// VMRecord is one normalized virtual machine. Provider-specific attributes
// that do not fit the common fields land in Extra.
type VMRecord struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	PowerState  string                 `json:"power_state,omitempty"`
	GuestOS     string                 `json:"guest_os,omitempty"`
	CPUs        int                    `json:"cpus,omitempty"`
	MemoryMB    int                    `json:"memory_mb,omitempty"`
	Host        string                 `json:"host,omitempty"`
	IPAddresses []string               `json:"ip_addresses,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// HostRecord is one normalized hypervisor host summary. A record holding
// only the Host field is a placeholder installed when a stale host has never
// produced data.
type HostRecord struct {
	Host         string                 `json:"host"`
	Name         string                 `json:"name,omitempty"`
	State        string                 `json:"state,omitempty"`
	CPUCores     int                    `json:"cpu_cores,omitempty"`
	MemoryMB     int64                  `json:"memory_mb,omitempty"`
	MemoryUsedMB int64                  `json:"memory_used_mb,omitempty"`
	VMCount      int                    `json:"vm_count,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// SnapshotPayload is the latest cached inventory for one ScopeKey.
//
// For scope=vms the data lives in VMs (host -> record list) so per-host
// upsert is addressable; for scope=hosts it lives in HostRecords, matched by
// the Host field on upsert.
type SnapshotPayload struct {
	Provider    Provider                      `json:"provider"`
	Scope       Scope                         `json:"scope"`
	Hosts       []string                      `json:"hosts"`
	Level       Level                         `json:"level"`
	GeneratedAt time.Time                     `json:"generated_at"`
	TotalHosts  int                           `json:"total_hosts"`
	HostsStatus map[string]SnapshotHostStatus `json:"hosts_status"`
	VMs         map[string][]VMRecord         `json:"vms,omitempty"`
	HostRecords []HostRecord                  `json:"host_records,omitempty"`
	Summary     map[string]interface{}        `json:"summary,omitempty"`
	Stale       bool                          `json:"stale,omitempty"`
	StaleReason string                        `json:"stale_reason,omitempty"`
	Source      SnapshotSource                `json:"source"`
}

// Clone returns a deep copy of the payload.
func (s *SnapshotPayload) Clone() *SnapshotPayload {
	cp := *s
	cp.Hosts = append([]string(nil), s.Hosts...)
	cp.HostsStatus = make(map[string]SnapshotHostStatus, len(s.HostsStatus))
	for h, st := range s.HostsStatus {
		cp.HostsStatus[h] = st
	}
	if s.VMs != nil {
		cp.VMs = make(map[string][]VMRecord, len(s.VMs))
		for h, list := range s.VMs {
			cp.VMs[h] = append([]VMRecord(nil), list...)
		}
	}
	if s.HostRecords != nil {
		cp.HostRecords = append([]HostRecord(nil), s.HostRecords...)
	}
	if s.Summary != nil {
		cp.Summary = make(map[string]interface{}, len(s.Summary))
		for k, v := range s.Summary {
			cp.Summary[k] = v
		}
	}
	return &cp
}

// HasAnyData reports whether the snapshot has ever held a successful record
// for at least one host. Host status carries the evidence so placeholder
// records do not count.
func (s *SnapshotPayload) HasAnyData() bool {
	for _, st := range s.HostsStatus {
		if st.LastSuccessAt != nil {
			return true
		}
	}
	return false
}
