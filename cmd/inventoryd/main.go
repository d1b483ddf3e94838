// inventoryd - read-only multi-provider virtualization inventory service.
// Aggregates VM and host inventory from VMware, oVirt, Hyper-V, Azure, and
// CEDIA into cached snapshots served over a small HTTP API.

// @title Inventory API
// @version 1.0.0
// @description Read-only aggregated virtualization inventory with background refresh jobs
// @BasePath /
// @schemes http

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/api"
	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/database"
	"github.com/virtops/inventoryd/orchestrator"
)

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inventoryd",
		Short: "Multi-provider virtualization inventory service",
		Long: "inventoryd aggregates VM and host inventory from VMware vSphere, oVirt, " +
			"Hyper-V, Azure, and CEDIA OpenStack into cached snapshots, refreshed by " +
			"background jobs and served over HTTP.",
		RunE: run,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("inventoryd failed")
	}
}

func run(cmd *cobra.Command, args []string) error {
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	log.WithFields(log.Fields{
		"version":   "1.0.0",
		"port":      cfg.Port,
		"db_type":   cfg.Database.Type,
		"log_level": log.GetLevel().String(),
	}).Info("Starting inventoryd")

	// Persistence backend; memory mode runs without durable snapshots.
	conn, err := database.Connect(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	var persistence orchestrator.SnapshotPersistence
	if conn.GetGormDB() != nil {
		persistence = database.NewSnapshotRepository(conn)
	}

	registry := adapters.FromConfig(cfg)
	manager := orchestrator.NewManager(cfg, registry, persistence)
	manager.Start()

	server, err := api.NewServer(&api.Config{
		Port:     cfg.Port,
		Debug:    debug || cfg.Debug,
		App:      cfg,
		Orch:     manager,
		Registry: registry,
		Database: conn,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create API server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("🛑 Shutdown signal received, stopping inventoryd")
		cancel()
	}()

	err = server.Start(ctx)

	manager.Shutdown()
	log.Info("inventoryd stopped")
	return err
}
