package adapters

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// OVirtAdapter collects inventory from oVirt engines over the REST API v4.
// Each "host" in a scope key is one engine FQDN.
type OVirtAdapter struct {
	cfg    *config.ProviderConfig
	client *http.Client
}

// NewOVirtAdapter creates the oVirt inventory adapter.
func NewOVirtAdapter(cfg *config.ProviderConfig) *OVirtAdapter {
	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &OVirtAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: transport,
		},
	}
}

// Provider implements Adapter.
func (a *OVirtAdapter) Provider() models.Provider {
	return models.ProviderOVirt
}

// Collect implements Adapter.
func (a *OVirtAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error) {
	switch scope {
	case models.ScopeVMs:
		return a.collectVMs(ctx, host, level)
	case models.ScopeHosts:
		return a.collectHostSummary(ctx, host)
	}
	return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("unsupported scope %s", scope)}
}

// ovirtVM mirrors the fields we read from GET /ovirt-engine/api/vms.
type ovirtVM struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	OS     struct {
		Type string `json:"type"`
	} `json:"os"`
	CPU struct {
		Topology struct {
			Sockets string `json:"sockets"`
			Cores   string `json:"cores"`
		} `json:"topology"`
	} `json:"cpu"`
	Memory string `json:"memory"`
}

type ovirtVMList struct {
	VM []ovirtVM `json:"vm"`
}

type ovirtHost struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	CPU    struct {
		Topology struct {
			Sockets string `json:"sockets"`
			Cores   string `json:"cores"`
		} `json:"topology"`
	} `json:"cpu"`
	Memory  string `json:"memory"`
	Summary struct {
		Total string `json:"total"`
	} `json:"summary"`
	Version struct {
		FullVersion string `json:"full_version"`
	} `json:"version"`
}

type ovirtHostList struct {
	Host []ovirtHost `json:"host"`
}

func (a *OVirtAdapter) collectVMs(ctx context.Context, host string, level models.Level) (*Result, error) {
	body, err := a.get(ctx, host, "/ovirt-engine/api/vms")
	if err != nil {
		return nil, err
	}

	var list ovirtVMList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode oVirt VM list: %w", err))
	}

	records := make([]models.VMRecord, 0, len(list.VM))
	for _, vm := range list.VM {
		rec := models.VMRecord{
			ID:         vm.ID,
			Name:       vm.Name,
			PowerState: vm.Status,
			GuestOS:    vm.OS.Type,
			Host:       host,
		}
		sockets, _ := strconv.Atoi(vm.CPU.Topology.Sockets)
		cores, _ := strconv.Atoi(vm.CPU.Topology.Cores)
		rec.CPUs = sockets * cores
		if memBytes, err := strconv.ParseInt(vm.Memory, 10, 64); err == nil {
			rec.MemoryMB = int(memBytes / (1024 * 1024))
		}
		records = append(records, rec)
	}

	log.WithFields(log.Fields{
		"engine":   host,
		"vm_count": len(records),
	}).Info("oVirt VM inventory collected")

	return &Result{VMs: records}, nil
}

func (a *OVirtAdapter) collectHostSummary(ctx context.Context, host string) (*Result, error) {
	body, err := a.get(ctx, host, "/ovirt-engine/api/hosts")
	if err != nil {
		return nil, err
	}

	var list ovirtHostList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode oVirt host list: %w", err))
	}

	var cpuCores int
	var memoryMB int64
	hypervisors := make([]map[string]interface{}, 0, len(list.Host))
	version := ""
	for _, h := range list.Host {
		sockets, _ := strconv.Atoi(h.CPU.Topology.Sockets)
		cores, _ := strconv.Atoi(h.CPU.Topology.Cores)
		cpuCores += sockets * cores
		if memBytes, err := strconv.ParseInt(h.Memory, 10, 64); err == nil {
			memoryMB += memBytes / (1024 * 1024)
		}
		if h.Version.FullVersion != "" {
			version = h.Version.FullVersion
		}
		hypervisors = append(hypervisors, map[string]interface{}{
			"id":     h.ID,
			"name":   h.Name,
			"status": h.Status,
		})
	}

	record := &models.HostRecord{
		Host:     host,
		Name:     host,
		State:    "up",
		CPUCores: cpuCores,
		MemoryMB: memoryMB,
		Version:  version,
		Extra: map[string]interface{}{
			"hypervisors": hypervisors,
		},
	}

	log.WithFields(log.Fields{
		"engine":      host,
		"hypervisors": len(hypervisors),
	}).Info("oVirt host inventory collected")

	return &Result{HostInfo: record}, nil
}

func (a *OVirtAdapter) get(ctx context.Context, host, path string) ([]byte, error) {
	url := fmt.Sprintf("https://%s%s", host, path)
	if a.cfg.BaseURL != "" {
		url = fmt.Sprintf(a.cfg.BaseURL, host) + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &CollectError{Kind: ErrOther, Message: err.Error(), Err: err}
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, AuthFailedf("oVirt engine %s rejected credentials (status %d)", host, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("oVirt engine %s returned status %d", host, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(err)
	}
	return body, nil
}
