package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/masterzen/winrm"
	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// HyperVAdapter collects inventory from Hyper-V hosts by running PowerShell
// over WinRM. It is also the only adapter with a write path: a scoped
// power-action passthrough (Start-VM / Stop-VM).
type HyperVAdapter struct {
	cfg *config.ProviderConfig

	// newClient is swappable for tests; production builds a real WinRM client.
	newClient func(host string) (winrmRunner, error)
}

// winrmRunner is the slice of the WinRM client the adapter uses.
type winrmRunner interface {
	RunWithContext(ctx context.Context, command string, stdout, stderr *bytes.Buffer) (int, error)
}

type winrmClientRunner struct {
	client *winrm.Client
}

func (r *winrmClientRunner) RunWithContext(ctx context.Context, command string, stdout, stderr *bytes.Buffer) (int, error) {
	return r.client.RunWithContextWithInput(ctx, command, stdout, stderr, nil)
}

// NewHyperVAdapter creates the Hyper-V inventory adapter.
func NewHyperVAdapter(cfg *config.ProviderConfig) *HyperVAdapter {
	a := &HyperVAdapter{cfg: cfg}
	a.newClient = func(host string) (winrmRunner, error) {
		endpoint := winrm.NewEndpoint(host, cfg.WinRMPort, cfg.WinRMUseHTTPS, cfg.Insecure, nil, nil, nil, 0)
		client, err := winrm.NewClient(endpoint, cfg.Username, cfg.Password)
		if err != nil {
			return nil, err
		}
		return &winrmClientRunner{client: client}, nil
	}
	return a
}

// Provider implements Adapter.
func (a *HyperVAdapter) Provider() models.Provider {
	return models.ProviderHyperV
}

// hypervVM mirrors the JSON emitted by the Get-VM query below.
type hypervVM struct {
	ID         string `json:"Id"`
	Name       string `json:"Name"`
	State      int    `json:"State"`
	CPUCount   int    `json:"ProcessorCount"`
	MemoryMB   int64  `json:"MemoryAssignedMB"`
	Generation int    `json:"Generation"`
	Uptime     string `json:"UptimeString"`
}

type hypervHost struct {
	Name              string `json:"Name"`
	LogicalProcessors int    `json:"LogicalProcessorCount"`
	MemoryMB          int64  `json:"MemoryCapacityMB"`
	VMCount           int    `json:"VirtualMachineCount"`
	Version           string `json:"HyperVVersion"`
}

const hypervVMQuery = `Get-VM | Select-Object @{n='Id';e={$_.Id.Guid}}, Name, @{n='State';e={[int]$_.State}}, ProcessorCount, @{n='MemoryAssignedMB';e={[int64]($_.MemoryAssigned/1MB)}}, Generation, @{n='UptimeString';e={$_.Uptime.ToString()}} | ConvertTo-Json -Compress`

const hypervHostQuery = `$h = Get-VMHost; $vms = @(Get-VM); [PSCustomObject]@{Name=$h.Name; LogicalProcessorCount=$h.LogicalProcessorCount; MemoryCapacityMB=[int64]($h.MemoryCapacity/1MB); VirtualMachineCount=$vms.Count; HyperVVersion=$h.Version} | ConvertTo-Json -Compress`

// Collect implements Adapter.
func (a *HyperVAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error) {
	switch scope {
	case models.ScopeVMs:
		return a.collectVMs(ctx, host)
	case models.ScopeHosts:
		return a.collectHostSummary(ctx, host)
	}
	return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("unsupported scope %s", scope)}
}

func (a *HyperVAdapter) collectVMs(ctx context.Context, host string) (*Result, error) {
	out, err := a.runPowerShell(ctx, host, hypervVMQuery)
	if err != nil {
		return nil, err
	}

	vms, err := decodeHyperVVMs(out)
	if err != nil {
		return nil, err
	}

	records := make([]models.VMRecord, 0, len(vms))
	for _, vm := range vms {
		records = append(records, models.VMRecord{
			ID:         vm.ID,
			Name:       vm.Name,
			PowerState: hypervStateName(vm.State),
			CPUs:       vm.CPUCount,
			MemoryMB:   int(vm.MemoryMB),
			Host:       host,
			Extra: map[string]interface{}{
				"generation": vm.Generation,
				"uptime":     vm.Uptime,
			},
		})
	}

	log.WithFields(log.Fields{
		"hyperv_host": host,
		"vm_count":    len(records),
	}).Info("Hyper-V VM inventory collected")

	return &Result{VMs: records}, nil
}

func (a *HyperVAdapter) collectHostSummary(ctx context.Context, host string) (*Result, error) {
	out, err := a.runPowerShell(ctx, host, hypervHostQuery)
	if err != nil {
		return nil, err
	}

	var h hypervHost
	if err := json.Unmarshal([]byte(out), &h); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode Hyper-V host summary: %w", err))
	}

	record := &models.HostRecord{
		Host:     host,
		Name:     h.Name,
		State:    "up",
		CPUCores: h.LogicalProcessors,
		MemoryMB: h.MemoryMB,
		VMCount:  h.VMCount,
		Version:  h.Version,
	}

	log.WithField("hyperv_host", host).Info("Hyper-V host inventory collected")

	return &Result{HostInfo: record}, nil
}

// PowerAction implements PowerManager. Only "start" and "stop" are allowed
// through; anything else is refused before touching the host.
func (a *HyperVAdapter) PowerAction(ctx context.Context, host, vmName, action string) error {
	var cmdlet string
	switch strings.ToLower(action) {
	case "start":
		cmdlet = "Start-VM"
	case "stop":
		cmdlet = "Stop-VM"
	default:
		return fmt.Errorf("unsupported power action: %s", action)
	}

	// Single-quote the VM name for PowerShell; embedded quotes are doubled.
	quoted := "'" + strings.ReplaceAll(vmName, "'", "''") + "'"
	command := fmt.Sprintf("%s -Name %s -ErrorAction Stop", cmdlet, quoted)

	if _, err := a.runPowerShell(ctx, host, command); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"hyperv_host": host,
		"vm_name":     vmName,
		"action":      action,
	}).Info("Hyper-V power action executed")

	return nil
}

func (a *HyperVAdapter) runPowerShell(ctx context.Context, host, command string) (string, error) {
	client, err := a.newClient(host)
	if err != nil {
		return "", Classify(err)
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := client.RunWithContext(ctx, winrm.Powershell(command), &stdout, &stderr)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "401") ||
			strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
			return "", NewCollectError(ErrAuthFailed, err)
		}
		return "", Classify(err)
	}
	if exitCode != 0 {
		return "", &CollectError{Kind: ErrOther, Message: TruncateMessage(fmt.Sprintf("powershell exit %d: %s", exitCode, stderr.String()))}
	}

	return stdout.String(), nil
}

// decodeHyperVVMs handles ConvertTo-Json's habit of emitting a bare object
// for single-element results instead of an array.
func decodeHyperVVMs(out string) ([]hypervVM, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	var vms []hypervVM
	if err := json.Unmarshal([]byte(out), &vms); err == nil {
		return vms, nil
	}

	var single hypervVM
	if err := json.Unmarshal([]byte(out), &single); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to decode Hyper-V VM list: %w", err))
	}
	return []hypervVM{single}, nil
}

func hypervStateName(state int) string {
	switch state {
	case 2:
		return "running"
	case 3:
		return "off"
	case 6:
		return "saved"
	case 9:
		return "paused"
	default:
		return "unknown"
	}
}
