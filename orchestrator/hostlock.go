package orchestrator

import (
	"strings"
	"sync"
)

// HostLockRegistry hands out one exclusive lock per lowercased host
// identifier. It is constructed once at startup and shared across every
// (provider, scope) engine in the process, so two engines targeting the same
// physical host never race its management endpoint.
type HostLockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHostLockRegistry creates an empty registry.
func NewHostLockRegistry() *HostLockRegistry {
	return &HostLockRegistry{locks: make(map[string]*sync.Mutex)}
}

// Get returns the lock for a host, creating it on first reference. The
// caller locks and unlocks it around the adapter call.
func (r *HostLockRegistry) Get(host string) *sync.Mutex {
	key := strings.ToLower(strings.TrimSpace(host))

	r.mu.Lock()
	defer r.mu.Unlock()

	lk, ok := r.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[key] = lk
	}
	return lk
}
