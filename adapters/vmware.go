package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// VMwareAdapter collects VM and host inventory from vCenter endpoints via
// the vSphere SDK. Each "host" in a scope key is one vCenter FQDN.
type VMwareAdapter struct {
	cfg *config.ProviderConfig
}

// NewVMwareAdapter creates the vSphere inventory adapter.
func NewVMwareAdapter(cfg *config.ProviderConfig) *VMwareAdapter {
	return &VMwareAdapter{cfg: cfg}
}

// Provider implements Adapter.
func (a *VMwareAdapter) Provider() models.Provider {
	return models.ProviderVMware
}

// Collect implements Adapter. Connects per call; vCenter sessions are cheap
// relative to the refresh interval and a cached session would outlive the
// per-host lock.
func (a *VMwareAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error) {
	client, err := a.connect(ctx, host)
	if err != nil {
		return nil, err
	}
	defer client.Logout(context.Background()) //nolint:errcheck

	switch scope {
	case models.ScopeVMs:
		return a.collectVMs(ctx, client, host, level)
	case models.ScopeHosts:
		return a.collectHostSummary(ctx, client, host)
	}
	return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("unsupported scope %s", scope)}
}

func (a *VMwareAdapter) connect(ctx context.Context, host string) (*govmomi.Client, error) {
	u, err := url.Parse(fmt.Sprintf("https://%s/sdk", host))
	if err != nil {
		return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("invalid vCenter URL: %v", err), Err: err}
	}
	u.User = url.UserPassword(a.cfg.Username, a.cfg.Password)

	client, err := govmomi.NewClient(ctx, u, a.cfg.Insecure)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "incorrect user name or password") ||
			strings.Contains(strings.ToLower(err.Error()), "login failure") {
			return nil, NewCollectError(ErrAuthFailed, err)
		}
		return nil, Classify(err)
	}

	log.WithField("vcenter", host).Debug("Connected to vCenter")
	return client, nil
}

func (a *VMwareAdapter) collectVMs(ctx context.Context, client *govmomi.Client, host string, level models.Level) (*Result, error) {
	m := view.NewManager(client.Client)

	v, err := m.CreateContainerView(ctx, client.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, Classify(err)
	}
	defer v.Destroy(context.Background()) //nolint:errcheck

	props := []string{"name", "config.uuid", "config.hardware.numCPU", "config.hardware.memoryMB",
		"runtime.powerState", "guest.guestFullName"}
	if level == models.LevelDetail {
		props = append(props, "guest.net", "config.version", "summary.config.annotation")
	}

	var vmMos []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, props, &vmMos); err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to retrieve VM properties: %w", err))
	}

	records := make([]models.VMRecord, 0, len(vmMos))
	for i := range vmMos {
		records = append(records, a.convertVM(&vmMos[i], host, level))
	}

	log.WithFields(log.Fields{
		"vcenter":  host,
		"vm_count": len(records),
		"level":    level,
	}).Info("vCenter VM inventory collected")

	return &Result{
		VMs: records,
		Summary: map[string]interface{}{
			"vcenter_version": client.ServiceContent.About.Version,
			"total_vms":       len(records),
		},
	}, nil
}

func (a *VMwareAdapter) collectHostSummary(ctx context.Context, client *govmomi.Client, host string) (*Result, error) {
	m := view.NewManager(client.Client)

	v, err := m.CreateContainerView(ctx, client.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, Classify(err)
	}
	defer v.Destroy(context.Background()) //nolint:errcheck

	var hostMos []mo.HostSystem
	err = v.Retrieve(ctx, []string{"HostSystem"}, []string{"name", "summary"}, &hostMos)
	if err != nil {
		return nil, NewCollectError(ErrParse, fmt.Errorf("failed to retrieve host properties: %w", err))
	}

	var cpuCores int
	var memoryMB, memoryUsedMB int64
	esxiHosts := make([]map[string]interface{}, 0, len(hostMos))
	for _, h := range hostMos {
		hw := h.Summary.Hardware
		if hw != nil {
			cpuCores += int(hw.NumCpuCores)
			memoryMB += hw.MemorySize / (1024 * 1024)
		}
		memoryUsedMB += int64(h.Summary.QuickStats.OverallMemoryUsage)
		esxiHosts = append(esxiHosts, map[string]interface{}{
			"name":           h.Name,
			"connection":     string(h.Summary.Runtime.ConnectionState),
			"power":          string(h.Summary.Runtime.PowerState),
			"cpu_usage_mhz":  h.Summary.QuickStats.OverallCpuUsage,
			"memory_used_mb": h.Summary.QuickStats.OverallMemoryUsage,
			"in_maintenance": h.Summary.Runtime.InMaintenanceMode,
			"uptime_seconds": h.Summary.QuickStats.Uptime,
			"overall_status": string(h.Summary.OverallStatus),
		})
	}

	record := &models.HostRecord{
		Host:         host,
		Name:         host,
		State:        "connected",
		CPUCores:     cpuCores,
		MemoryMB:     memoryMB,
		MemoryUsedMB: memoryUsedMB,
		VMCount:      0,
		Version:      client.ServiceContent.About.Version,
		Extra: map[string]interface{}{
			"esxi_hosts": esxiHosts,
		},
	}

	log.WithFields(log.Fields{
		"vcenter":    host,
		"esxi_hosts": len(esxiHosts),
	}).Info("vCenter host inventory collected")

	return &Result{HostInfo: record}, nil
}

func (a *VMwareAdapter) convertVM(vmMo *mo.VirtualMachine, host string, level models.Level) models.VMRecord {
	rec := models.VMRecord{
		Name: vmMo.Name,
		Host: host,
	}

	if vmMo.Config != nil {
		rec.ID = vmMo.Config.Uuid
		rec.CPUs = int(vmMo.Config.Hardware.NumCPU)
		rec.MemoryMB = int(vmMo.Config.Hardware.MemoryMB)
	}
	if rec.ID == "" {
		rec.ID = vmMo.Self.Value
	}

	switch vmMo.Runtime.PowerState {
	case types.VirtualMachinePowerStatePoweredOn:
		rec.PowerState = "poweredOn"
	case types.VirtualMachinePowerStatePoweredOff:
		rec.PowerState = "poweredOff"
	case types.VirtualMachinePowerStateSuspended:
		rec.PowerState = "suspended"
	default:
		rec.PowerState = "unknown"
	}

	if vmMo.Guest != nil {
		rec.GuestOS = vmMo.Guest.GuestFullName
		if level == models.LevelDetail {
			for _, nic := range vmMo.Guest.Net {
				rec.IPAddresses = append(rec.IPAddresses, nic.IpAddress...)
			}
		}
	}

	if level == models.LevelDetail && vmMo.Config != nil {
		rec.Extra = map[string]interface{}{
			"vmx_version": vmMo.Config.Version,
		}
		if vmMo.Summary.Config.Annotation != "" {
			rec.Extra["annotation"] = vmMo.Summary.Config.Annotation
		}
	}

	return rec
}
