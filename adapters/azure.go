package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	armcompute "github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	log "github.com/sirupsen/logrus"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// AzureAdapter collects VM inventory through the ARM compute API. Each
// "host" in a scope key is one subscription ID; the hosts scope returns a
// per-subscription aggregate.
type AzureAdapter struct {
	cfg *config.ProviderConfig

	credMu sync.Mutex
	cred   azcore.TokenCredential
}

// NewAzureAdapter creates the Azure ARM inventory adapter. Credential
// construction is deferred; errors surface as auth failures on first Collect.
func NewAzureAdapter(cfg *config.ProviderConfig) *AzureAdapter {
	return &AzureAdapter{cfg: cfg}
}

// Provider implements Adapter.
func (a *AzureAdapter) Provider() models.Provider {
	return models.ProviderAzure
}

// credential lazily builds the client-secret credential. Concurrent workers
// share one adapter instance, so the cache is mutex-guarded; a failed
// construction is retried on the next call.
func (a *AzureAdapter) credential() (azcore.TokenCredential, error) {
	a.credMu.Lock()
	defer a.credMu.Unlock()

	if a.cred != nil {
		return a.cred, nil
	}
	cred, err := azidentity.NewClientSecretCredential(a.cfg.TenantID, a.cfg.ClientID, a.cfg.ClientSecret, nil)
	if err != nil {
		return nil, NewCollectError(ErrAuthFailed, err)
	}
	a.cred = cred
	return cred, nil
}

// Collect implements Adapter.
func (a *AzureAdapter) Collect(ctx context.Context, host string, scope models.Scope, level models.Level) (*Result, error) {
	cred, err := a.credential()
	if err != nil {
		return nil, err
	}

	client, err := armcompute.NewVirtualMachinesClient(host, cred, nil)
	if err != nil {
		return nil, Classify(err)
	}

	records, err := a.listVMs(ctx, client, host, level)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"subscription": host,
		"vm_count":     len(records),
	}).Info("Azure VM inventory collected")

	switch scope {
	case models.ScopeVMs:
		return &Result{VMs: records}, nil
	case models.ScopeHosts:
		return &Result{HostInfo: &models.HostRecord{
			Host:    host,
			Name:    host,
			State:   "available",
			VMCount: len(records),
			Extra: map[string]interface{}{
				"subscription_id": host,
			},
		}}, nil
	}
	return nil, &CollectError{Kind: ErrOther, Message: fmt.Sprintf("unsupported scope %s", scope)}
}

func (a *AzureAdapter) listVMs(ctx context.Context, client *armcompute.VirtualMachinesClient, host string, level models.Level) ([]models.VMRecord, error) {
	opts := &armcompute.VirtualMachinesClientListAllOptions{}
	if level == models.LevelDetail {
		opts.StatusOnly = to.Ptr("true")
	}

	var records []models.VMRecord
	pager := client.NewListAllPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzureError(err)
		}
		for _, vm := range page.Value {
			records = append(records, convertAzureVM(vm, host))
		}
	}
	return records, nil
}

func convertAzureVM(vm *armcompute.VirtualMachine, host string) models.VMRecord {
	rec := models.VMRecord{Host: host}
	if vm.ID != nil {
		rec.ID = *vm.ID
	}
	if vm.Name != nil {
		rec.Name = *vm.Name
	}

	extra := map[string]interface{}{}
	if vm.Location != nil {
		extra["location"] = *vm.Location
	}
	if vm.Properties != nil {
		if hw := vm.Properties.HardwareProfile; hw != nil && hw.VMSize != nil {
			extra["vm_size"] = string(*hw.VMSize)
		}
		if sp := vm.Properties.StorageProfile; sp != nil && sp.OSDisk != nil && sp.OSDisk.OSType != nil {
			rec.GuestOS = string(*sp.OSDisk.OSType)
		}
		if iv := vm.Properties.InstanceView; iv != nil {
			for _, status := range iv.Statuses {
				if status.Code != nil && len(*status.Code) > len("PowerState/") && (*status.Code)[:len("PowerState/")] == "PowerState/" {
					rec.PowerState = (*status.Code)[len("PowerState/"):]
				}
			}
		}
	}
	if len(extra) > 0 {
		rec.Extra = extra
	}
	return rec
}

func classifyAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewCollectError(ErrAuthFailed, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return NewCollectError(ErrTimeout, err)
		}
		return NewCollectError(ErrOther, err)
	}
	return Classify(err)
}
