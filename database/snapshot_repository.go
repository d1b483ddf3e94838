package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventorySnapshot is the durable form of one snapshot payload, keyed by
// (provider, scope, hosts_key, level). The payload column holds the full
// serialized snapshot so rehydration rebuilds the in-memory copy verbatim.
type InventorySnapshot struct {
	ID          uint      `gorm:"primaryKey"`
	Provider    string    `gorm:"size:32;not null;uniqueIndex:idx_snapshot_key"`
	Scope       string    `gorm:"size:16;not null;uniqueIndex:idx_snapshot_key"`
	HostsKey    string    `gorm:"size:1024;not null;uniqueIndex:idx_snapshot_key,length:512"`
	Level       string    `gorm:"size:16;not null;uniqueIndex:idx_snapshot_key"`
	Payload     []byte    `gorm:"type:longblob;not null"`
	GeneratedAt time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time
}

// TableName pins the table name.
func (InventorySnapshot) TableName() string {
	return "inventory_snapshots"
}

// SnapshotRepository implements the orchestrator's persistence bridge over
// GORM.
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a repository on an open connection.
func NewSnapshotRepository(conn Connection) *SnapshotRepository {
	return &SnapshotRepository{db: conn.GetGormDB()}
}

// UpsertSnapshot inserts or replaces the snapshot row for the key.
func (r *SnapshotRepository) UpsertSnapshot(provider, scope, hostsKey, level string, payload []byte, generatedAt time.Time) error {
	row := InventorySnapshot{
		Provider:    provider,
		Scope:       scope,
		HostsKey:    hostsKey,
		Level:       level,
		Payload:     payload,
		GeneratedAt: generatedAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "scope"}, {Name: "hosts_key"}, {Name: "level"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "generated_at", "updated_at"}),
	}).Create(&row).Error
}

// GetSnapshot loads the stored payload, or (nil, nil) when the key has never
// been persisted.
func (r *SnapshotRepository) GetSnapshot(provider, scope, hostsKey, level string) ([]byte, error) {
	var row InventorySnapshot
	err := r.db.
		Where("provider = ? AND scope = ? AND hosts_key = ? AND level = ?", provider, scope, hostsKey, level).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}
