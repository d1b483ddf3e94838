// Package database provides the MariaDB persistence layer for inventory
// snapshots, plus the in-memory fallback used when durability is disabled.
package database

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/virtops/inventoryd/config"
)

// Connection abstracts the snapshot persistence backend.
type Connection interface {
	Close() error
	Ping() error
	GetStatus() string
	GetGormDB() *gorm.DB
}

// Connect opens the backend selected by the database config. Type "memory"
// returns a connection whose GORM handle is nil; callers fall back to
// in-memory-only snapshots.
func Connect(cfg config.DatabaseConfig) (Connection, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryConnection(), nil
	case "mariadb", "mysql":
		return NewMariaDBConnection(cfg)
	}
	return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
}

// MariaDBConnection implements Connection over GORM/MySQL.
type MariaDBConnection struct {
	cfg       config.DatabaseConfig
	db        *gorm.DB
	connected bool
}

// NewMariaDBConnection connects to MariaDB and migrates the snapshot schema.
func NewMariaDBConnection(cfg config.DatabaseConfig) (*MariaDBConnection, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid MariaDB config: %w", err)
	}

	charset := cfg.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		charset,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MariaDB: %w", err)
	}

	if err := db.AutoMigrate(&InventorySnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshot schema: %w", err)
	}

	log.WithFields(log.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("MariaDB connection established")

	return &MariaDBConnection{cfg: cfg, db: db, connected: true}, nil
}

// Close closes the underlying SQL connection pool.
func (c *MariaDBConnection) Close() error {
	if !c.connected || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	c.connected = false
	log.Info("MariaDB connection closed")
	return nil
}

// Ping tests the connection.
func (c *MariaDBConnection) Ping() error {
	if !c.connected || c.db == nil {
		return fmt.Errorf("not connected to database")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// GetStatus reports connected/error/disconnected for the health endpoint.
func (c *MariaDBConnection) GetStatus() string {
	if c.connected && c.db != nil {
		if err := c.Ping(); err == nil {
			return "connected"
		}
		return "error"
	}
	return "disconnected"
}

// GetGormDB exposes the GORM handle to repositories.
func (c *MariaDBConnection) GetGormDB() *gorm.DB {
	return c.db
}

func validateConfig(cfg config.DatabaseConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// MemoryConnection is the database-less deployment mode.
type MemoryConnection struct{}

// NewMemoryConnection creates the no-persistence connection.
func NewMemoryConnection() *MemoryConnection {
	log.Info("Using in-memory storage, snapshots will not survive restarts")
	return &MemoryConnection{}
}

func (c *MemoryConnection) Close() error        { return nil }
func (c *MemoryConnection) Ping() error         { return nil }
func (c *MemoryConnection) GetStatus() string   { return "memory" }
func (c *MemoryConnection) GetGormDB() *gorm.DB { return nil }
