package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

// scriptedRunner fakes the WinRM transport.
type scriptedRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	commands []string
}

func (r *scriptedRunner) RunWithContext(ctx context.Context, command string, stdout, stderr *bytes.Buffer) (int, error) {
	r.commands = append(r.commands, command)
	if r.err != nil {
		return -1, r.err
	}
	stdout.WriteString(r.stdout)
	stderr.WriteString(r.stderr)
	return r.exitCode, nil
}

func hypervTestAdapter(runner *scriptedRunner) *HyperVAdapter {
	a := NewHyperVAdapter(&config.ProviderConfig{
		Username:  "administrator",
		Password:  "secret",
		WinRMPort: 5985,
	})
	a.newClient = func(host string) (winrmRunner, error) { return runner, nil }
	return a
}

func TestHyperVCollectVMs(t *testing.T) {
	runner := &scriptedRunner{
		stdout: `[{"Id":"aaa-111","Name":"web01","State":2,"ProcessorCount":4,"MemoryAssignedMB":8192,"Generation":2,"UptimeString":"1.02:03:04"},` +
			`{"Id":"bbb-222","Name":"db01","State":3,"ProcessorCount":8,"MemoryAssignedMB":16384,"Generation":1,"UptimeString":"00:00:00"}]`,
	}
	a := hypervTestAdapter(runner)

	res, err := a.Collect(context.Background(), "hv01", models.ScopeVMs, models.LevelSummary)
	require.NoError(t, err)
	require.Len(t, res.VMs, 2)

	assert.Equal(t, "web01", res.VMs[0].Name)
	assert.Equal(t, "running", res.VMs[0].PowerState)
	assert.Equal(t, 4, res.VMs[0].CPUs)
	assert.Equal(t, "off", res.VMs[1].PowerState)
	assert.Equal(t, "hv01", res.VMs[1].Host)
}

func TestHyperVCollectSingleVMObject(t *testing.T) {
	// ConvertTo-Json drops the array for single results.
	runner := &scriptedRunner{
		stdout: `{"Id":"aaa-111","Name":"solo","State":9,"ProcessorCount":2,"MemoryAssignedMB":4096,"Generation":2,"UptimeString":"00:10:00"}`,
	}
	a := hypervTestAdapter(runner)

	res, err := a.Collect(context.Background(), "hv01", models.ScopeVMs, models.LevelSummary)
	require.NoError(t, err)
	require.Len(t, res.VMs, 1)
	assert.Equal(t, "paused", res.VMs[0].PowerState)
}

func TestHyperVCollectEmptyHost(t *testing.T) {
	runner := &scriptedRunner{stdout: ""}
	a := hypervTestAdapter(runner)

	res, err := a.Collect(context.Background(), "hv01", models.ScopeVMs, models.LevelSummary)
	require.NoError(t, err)
	assert.Empty(t, res.VMs)
}

func TestHyperVCollectHostSummary(t *testing.T) {
	runner := &scriptedRunner{
		stdout: `{"Name":"HV01","LogicalProcessorCount":32,"MemoryCapacityMB":262144,"VirtualMachineCount":12,"HyperVVersion":"10.0.20348.1"}`,
	}
	a := hypervTestAdapter(runner)

	res, err := a.Collect(context.Background(), "hv01", models.ScopeHosts, models.LevelSummary)
	require.NoError(t, err)
	require.NotNil(t, res.HostInfo)
	assert.Equal(t, 32, res.HostInfo.CPUCores)
	assert.Equal(t, 12, res.HostInfo.VMCount)
	assert.Equal(t, "hv01", res.HostInfo.Host)
}

func TestHyperVAuthFailureTagged(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("http response error: 401 - invalid content type")}
	a := hypervTestAdapter(runner)

	_, err := a.Collect(context.Background(), "hv01", models.ScopeVMs, models.LevelSummary)
	require.Error(t, err)
	assert.Equal(t, ErrAuthFailed, KindOf(err))
}

func TestHyperVNonZeroExitCode(t *testing.T) {
	runner := &scriptedRunner{exitCode: 1, stderr: "Get-VM : access denied"}
	a := hypervTestAdapter(runner)

	_, err := a.Collect(context.Background(), "hv01", models.ScopeVMs, models.LevelSummary)
	require.Error(t, err)
	assert.Equal(t, ErrOther, KindOf(err))
}

func TestHyperVPowerAction(t *testing.T) {
	runner := &scriptedRunner{}
	a := hypervTestAdapter(runner)

	err := a.PowerAction(context.Background(), "hv01", "web'01", "start")
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)
	assert.Contains(t, decodePowershell(t, runner.commands[0]), "Start-VM")

	err = a.PowerAction(context.Background(), "hv01", "web01", "restart")
	assert.Error(t, err, "only start and stop pass through")
	assert.Len(t, runner.commands, 1, "refused actions never reach the host")
}

// decodePowershell unwraps the -EncodedCommand payload winrm.Powershell
// produces (base64 over UTF-16LE).
func decodePowershell(t *testing.T, command string) string {
	t.Helper()
	fields := strings.Fields(command)
	require.NotEmpty(t, fields)

	raw, err := base64.StdEncoding.DecodeString(fields[len(fields)-1])
	require.NoError(t, err)

	var sb strings.Builder
	for i := 0; i+1 < len(raw); i += 2 {
		sb.WriteByte(raw[i])
	}
	return sb.String()
}
