package adapters

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// CEDIAAdapter collects inventory from the CEDIA vCloud-style REST API.
// Each "host" in a scope key is one API endpoint FQDN.
type CEDIAAdapter struct {
	cfg    *config.ProviderConfig
	client *http.Client
}

// NewCEDIAAdapter creates the CEDIA inventory adapter.
func NewCEDIAAdapter(cfg *config.ProviderConfig) *CEDIAAdapter {
	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &CEDIAAdapter{
		cfg: cfg,
		client: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: transport,
		},
	}
}

// Provider implements Adapter.
func (a *CEDIAAdapter) Provider() models.Provider {
	return models.ProviderCEDIA
}

// cediaVM mirrors the CEDIA API's VM entry.
type cediaVM struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	OS       string `json:"operating_system"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
	Org      string `json:"organization"`
}

type cediaVMList struct {
	VMs   []cediaVM `json:"vms"`
	Total int       `json:"total"`
}

type cediaCapacity struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	CPUCores    int    `json:"cpu_cores"`
	MemoryMB    int64  `json:"memory_mb"`
	UsedMB      int64  `json:"memory_used_mb"`
	VMCount     int    `json:"vm_count"`
	APIVersion  string `json:"api_version"`
	Maintenance bool   `json:"maintenance"`
}

// Collect implements Adapter.
func (a *CEDIAAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error) {
	switch scope {
	case models.ScopeVMs:
		return a.collectVMs(ctx, host, level)
	case models.ScopeHosts:
		return a.collectCapacity(ctx, host)
	}
	return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("unsupported scope %s", scope)}
}

func (a *CEDIAAdapter) collectVMs(ctx context.Context, host string, level models.Level) (*Result, error) {
	path := "/api/v1/vms"
	if level == models.LevelDetail {
		path += "?detail=true"
	}

	body, err := a.get(ctx, host, path)
	if err != nil {
		return nil, err
	}

	var list cediaVMList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode CEDIA VM list: %w", err))
	}

	records := make([]models.VMRecord, 0, len(list.VMs))
	for _, vm := range list.VMs {
		rec := models.VMRecord{
			ID:         vm.ID,
			Name:       vm.Name,
			PowerState: vm.Status,
			GuestOS:    vm.OS,
			CPUs:       vm.CPUs,
			MemoryMB:   vm.MemoryMB,
			Host:       host,
		}
		if vm.Org != "" {
			rec.Extra = map[string]interface{}{"organization": vm.Org}
		}
		records = append(records, rec)
	}

	log.WithFields(log.Fields{
		"endpoint": host,
		"vm_count": len(records),
	}).Info("CEDIA VM inventory collected")

	return &Result{VMs: records}, nil
}

func (a *CEDIAAdapter) collectCapacity(ctx context.Context, host string) (*Result, error) {
	body, err := a.get(ctx, host, "/api/v1/capacity")
	if err != nil {
		return nil, err
	}

	var capacity cediaCapacity
	if err := json.Unmarshal(body, &capacity); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode CEDIA capacity: %w", err))
	}

	record := &models.HostRecord{
		Host:         host,
		Name:         capacity.Name,
		State:        capacity.State,
		CPUCores:     capacity.CPUCores,
		MemoryMB:     capacity.MemoryMB,
		MemoryUsedMB: capacity.UsedMB,
		VMCount:      capacity.VMCount,
		Version:      capacity.APIVersion,
	}
	if capacity.Maintenance {
		record.Extra = map[string]interface{}{"maintenance": true}
	}

	log.WithField("endpoint", host).Info("CEDIA capacity collected")

	return &Result{HostInfo: record}, nil
}

func (a *CEDIAAdapter) get(ctx context.Context, host, path string) ([]byte, error) {
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
		return nil, AuthFailedf("CEDIA endpoint %s rejected credentials (status %d)", host, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("CEDIA endpoint %s returned status %d", host, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(err)
	}
	return body, nil
}
