// Package config loads the inventoryd YAML configuration and applies
// per-provider defaults and floors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Defaults and floors for the orchestration knobs.
const (
	DefaultRefreshIntervalMinutes = 60
	MinRefreshIntervalMinutes     = 10
	DefaultJobMaxGlobal           = 4
	DefaultJobMaxPerScope         = 2
	DefaultJobHostTimeoutSeconds  = 120
	DefaultJobMaxDurationSeconds  = 600
)

// DatabaseConfig selects the persistence backend. Type "memory" disables
// durable snapshots.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // mariadb or memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Charset  string `yaml:"charset"`
}

// AuthConfig gates the HTTP surface. Tokens map session tokens to the
// providers their bearer may view; an entry of "*" grants all providers.
type AuthConfig struct {
	Enabled bool                `yaml:"enabled"`
	Tokens  map[string][]string `yaml:"tokens"`
}

// ProviderConfig holds one provider's endpoints, credentials, and
// orchestration knobs. Zero values fall back to the documented defaults via
// Normalize.
type ProviderConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Hosts   []string `yaml:"hosts"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`

	// vSphere
	Datacenter string `yaml:"datacenter"`

	// oVirt / CEDIA REST endpoints use BaseURL templates with the host
	// substituted in.
	BaseURL string `yaml:"base_url"`

	// Hyper-V WinRM transport
	WinRMPort     int  `yaml:"winrm_port"`
	WinRMUseHTTPS bool `yaml:"winrm_https"`

	// Azure ARM; each subscription ID acts as one "host"
	TenantID        string   `yaml:"tenant_id"`
	ClientID        string   `yaml:"client_id"`
	ClientSecret    string   `yaml:"client_secret"`
	SubscriptionIDs []string `yaml:"subscription_ids"`

	RefreshIntervalMinutes int `yaml:"refresh_interval_minutes"`
	JobMaxGlobal           int `yaml:"job_max_global"`
	JobMaxPerScope         int `yaml:"job_max_per_scope"`
	JobHostTimeoutSeconds  int `yaml:"job_host_timeout_seconds"`
	JobMaxDurationSeconds  int `yaml:"job_max_duration_seconds"`
}

// Config is the root inventoryd configuration.
type Config struct {
	Port     int            `yaml:"port"`
	Debug    bool           `yaml:"debug"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`

	VMware ProviderConfig `yaml:"vmware"`
	OVirt  ProviderConfig `yaml:"ovirt"`
	HyperV ProviderConfig `yaml:"hyperv"`
	Azure  ProviderConfig `yaml:"azure"`
	CEDIA  ProviderConfig `yaml:"cedia"`
}

// Load reads and validates the YAML config file, then applies environment
// overrides and per-provider defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Normalize()

	log.WithFields(log.Fields{
		"config_path": path,
		"port":        cfg.Port,
		"db_type":     cfg.Database.Type,
		"auth":        cfg.Auth.Enabled,
	}).Info("Configuration loaded")

	return cfg, nil
}

// Normalize applies defaults and floors across all sections.
func (c *Config) Normalize() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	for _, pc := range c.providerConfigs() {
		pc.normalize()
	}
	// Azure treats subscription IDs as the host list.
	if len(c.Azure.Hosts) == 0 && len(c.Azure.SubscriptionIDs) > 0 {
		c.Azure.Hosts = append([]string(nil), c.Azure.SubscriptionIDs...)
	}
}

func (c *Config) providerConfigs() []*ProviderConfig {
	return []*ProviderConfig{&c.VMware, &c.OVirt, &c.HyperV, &c.Azure, &c.CEDIA}
}

// Provider returns the config section for the named provider.
func (c *Config) Provider(name string) *ProviderConfig {
	switch strings.ToLower(name) {
	case "vmware":
		return &c.VMware
	case "ovirt":
		return &c.OVirt
	case "hyperv":
		return &c.HyperV
	case "azure":
		return &c.Azure
	case "cedia":
		return &c.CEDIA
	}
	return nil
}

func (p *ProviderConfig) normalize() {
	if p.RefreshIntervalMinutes == 0 {
		p.RefreshIntervalMinutes = DefaultRefreshIntervalMinutes
	}
	if p.RefreshIntervalMinutes < MinRefreshIntervalMinutes {
		p.RefreshIntervalMinutes = MinRefreshIntervalMinutes
	}
	if p.JobMaxGlobal == 0 {
		p.JobMaxGlobal = DefaultJobMaxGlobal
	}
	if p.JobMaxPerScope == 0 {
		p.JobMaxPerScope = DefaultJobMaxPerScope
	}
	if p.JobHostTimeoutSeconds == 0 {
		p.JobHostTimeoutSeconds = DefaultJobHostTimeoutSeconds
	}
	if p.JobMaxDurationSeconds == 0 {
		p.JobMaxDurationSeconds = DefaultJobMaxDurationSeconds
	}
	if p.WinRMPort == 0 {
		p.WinRMPort = 5985
	}
}

// IsEnabled reports whether the provider is switched on (default true).
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// IsConfigured reports whether the mandatory credentials/endpoints are
// present. A provider without them is skipped by warmup and refused by the
// refresh trigger.
func (p *ProviderConfig) IsConfigured() bool {
	if len(p.SubscriptionIDs) > 0 {
		return p.TenantID != "" && p.ClientID != "" && p.ClientSecret != ""
	}
	return len(p.Hosts) > 0 && p.Username != "" && p.Password != ""
}

// applyEnvOverrides lets deployments override secrets without touching the
// config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INVENTORYD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("INVENTORYD_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("INVENTORYD_VMWARE_PASSWORD"); v != "" {
		c.VMware.Password = v
	}
	if v := os.Getenv("INVENTORYD_OVIRT_PASSWORD"); v != "" {
		c.OVirt.Password = v
	}
	if v := os.Getenv("INVENTORYD_HYPERV_PASSWORD"); v != "" {
		c.HyperV.Password = v
	}
	if v := os.Getenv("INVENTORYD_AZURE_CLIENT_SECRET"); v != "" {
		c.Azure.ClientSecret = v
	}
	if v := os.Getenv("INVENTORYD_CEDIA_PASSWORD"); v != "" {
		c.CEDIA.Password = v
	}
}
