package orchestrator

import "time"

// SnapshotPersistence is the durable side of the snapshot store. Snapshots
// are serialized payload blobs keyed by (provider, scope, hosts_key, level).
// Implementations must tolerate concurrent upserts; failures are logged by
// the caller and never fail a job.
type SnapshotPersistence interface {
	UpsertSnapshot(provider, scope, hostsKey, level string, payload []byte, generatedAt time.Time) error
	// GetSnapshot returns the stored blob, or (nil, nil) when absent.
	GetSnapshot(provider, scope, hostsKey, level string) ([]byte, error)
}

// NoopPersistence is used when the deployment runs without a database.
type NoopPersistence struct{}

// UpsertSnapshot implements SnapshotPersistence.
func (NoopPersistence) UpsertSnapshot(provider, scope, hostsKey, level string, payload []byte, generatedAt time.Time) error {
	return nil
}

// GetSnapshot implements SnapshotPersistence.
func (NoopPersistence) GetSnapshot(provider, scope, hostsKey, level string) ([]byte, error) {
	return nil, nil
}
