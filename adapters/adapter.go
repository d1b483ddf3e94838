// Package adapters contains the provider inventory adapters consumed by the
// orchestration engine. Each adapter turns one upstream endpoint ("host")
// into normalized VM or host records, returning tagged CollectErrors on
// failure so the engine can drive its per-host state machine.
package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/virtops/inventoryd/models"
)

// Result carries the outcome of one Collect call. VMs is populated for
// scope=vms, HostInfo for scope=hosts.
type Result struct {
	VMs      []models.VMRecord
	HostInfo *models.HostRecord
	Summary  map[string]interface{}
}

// Adapter is the provider inventory contract. Collect must honor ctx's
// deadline; where the underlying client cannot, the engine still enforces a
// wall-clock timeout outside.
type Adapter interface {
	Provider() models.Provider
	Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error)
}

// PowerManager is the optional write-path capability: a scoped power-action
// passthrough. Only the Hyper-V adapter implements it.
type PowerManager interface {
	PowerAction(ctx context.Context, host, vmName, action string) error
}

// Registry holds the adapter per provider, selected at construction time.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Provider]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Provider]Adapter)}
}

// Register installs an adapter for its provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p models.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", p)
	}
	return a, nil
}

// Providers returns the providers with a registered adapter.
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
