// Package models defines the shared data model for the inventory
// orchestration engine: scope keys, jobs, snapshots, and host health.
package models

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream hypervisor/cloud platform family.
type Provider string

const (
	ProviderVMware Provider = "vmware"
	ProviderOVirt  Provider = "ovirt"
	ProviderHyperV Provider = "hyperv"
	ProviderAzure  Provider = "azure"
	ProviderCEDIA  Provider = "cedia"
)

// AllProviders lists every supported provider.
var AllProviders = []Provider{ProviderVMware, ProviderOVirt, ProviderHyperV, ProviderAzure, ProviderCEDIA}

// ParseProvider validates a provider string from an API path or config key.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider: %s", s)
}

// Scope is the inventory dimension being collected.
type Scope string

const (
	ScopeVMs   Scope = "vms"
	ScopeHosts Scope = "hosts"
)

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeVMs:
		return ScopeVMs, nil
	case ScopeHosts:
		return ScopeHosts, nil
	}
	return "", fmt.Errorf("unknown scope: %s", s)
}

// Level selects the depth of the adapter call.
type Level string

const (
	LevelSummary Level = "summary"
	LevelDetail  Level = "detail"
)

// ParseLevel validates a level string, defaulting to summary when empty.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return LevelSummary, nil
	case LevelSummary:
		return LevelSummary, nil
	case LevelDetail:
		return LevelDetail, nil
	}
	return "", fmt.Errorf("unknown level: %s", s)
}

// ScopeKey is the identity of one inventory slice: (scope, ordered host
// list, level). Hosts are canonicalized on construction: lowercased,
// deduplicated, insertion order preserved.
type ScopeKey struct {
	Scope Scope    `json:"scope"`
	Hosts []string `json:"hosts"`
	Level Level    `json:"level"`
}

// NewScopeKey builds a canonical ScopeKey from a raw host list.
func NewScopeKey(scope Scope, hosts []string, level Level) ScopeKey {
	return ScopeKey{
		Scope: scope,
		Hosts: CanonicalHosts(hosts),
		Level: level,
	}
}

// CanonicalHosts lowercases, trims, and deduplicates a host list while
// preserving insertion order.
func CanonicalHosts(hosts []string) []string {
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// HostsKey returns the canonical string form of the host list, used as part
// of the persistence key.
func (k ScopeKey) HostsKey() string {
	return strings.Join(k.Hosts, ",")
}

// String returns a stable map key for the ScopeKey.
func (k ScopeKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Scope, k.Level, k.HostsKey())
}

// Equal reports whether two ScopeKeys match element-wise.
func (k ScopeKey) Equal(other ScopeKey) bool {
	return k.String() == other.String()
}
