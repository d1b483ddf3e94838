package adapters

import (
	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// FromConfig builds the adapter registry, registering one adapter per
// provider regardless of enablement; the orchestrator consults the config
// gates before dispatching work.
func FromConfig(cfg *config.Config) *Registry {
	reg := NewRegistry()
	reg.Register(NewVMwareAdapter(&cfg.VMware))
	reg.Register(NewOVirtAdapter(&cfg.OVirt))
	reg.Register(NewHyperVAdapter(&cfg.HyperV))
	reg.Register(NewAzureAdapter(&cfg.Azure))
	reg.Register(NewCEDIAAdapter(&cfg.CEDIA))

	for _, p := range models.AllProviders {
		pc := cfg.Provider(string(p))
		log.WithFields(log.Fields{
			"provider":   p,
			"enabled":    pc.IsEnabled(),
			"configured": pc.IsConfigured(),
			"hosts":      len(pc.Hosts),
		}).Info("Provider adapter registered")
	}

	return reg
}
