package models

import "time"

// Cooldown policy: failure n backs the host off for min(10 * 2^(n-1), 120)
// minutes from the failure instant.
const (
	CooldownBaseMinutes = 10
	CooldownCapMinutes  = 120
)

// CooldownDuration returns the back-off window after the given consecutive
// failure count.
func CooldownDuration(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	minutes := CooldownBaseMinutes
	for i := 1; i < consecutiveFailures; i++ {
		minutes *= 2
		if minutes >= CooldownCapMinutes {
			minutes = CooldownCapMinutes
			break
		}
	}
	return time.Duration(minutes) * time.Minute
}

// HostHealthRecord is the long-lived per-host health state, shared across
// jobs. Invariant: ConsecutiveFailures == 0 implies CooldownUntil == nil.
type HostHealthRecord struct {
	Host                string     `json:"host"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	LastErrorType       string     `json:"last_error_type,omitempty"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
}

// InCooldown reports whether the host is backed off at the given instant.
func (r *HostHealthRecord) InCooldown(now time.Time) bool {
	return r.CooldownUntil != nil && r.CooldownUntil.After(now)
}

// Clone returns a copy of the record.
func (r *HostHealthRecord) Clone() *HostHealthRecord {
	cp := *r
	if r.LastSuccessAt != nil {
		t := *r.LastSuccessAt
		cp.LastSuccessAt = &t
	}
	if r.LastErrorAt != nil {
		t := *r.LastErrorAt
		cp.LastErrorAt = &t
	}
	if r.CooldownUntil != nil {
		t := *r.CooldownUntil
		cp.CooldownUntil = &t
	}
	return &cp
}
