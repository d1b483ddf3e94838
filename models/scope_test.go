package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalHosts(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "lowercases and trims",
			input: []string{" ESX01.Lab.Local ", "esx02.lab.local"},
			want:  []string{"esx01.lab.local", "esx02.lab.local"},
		},
		{
			name:  "deduplicates preserving first occurrence order",
			input: []string{"hv-b", "HV-A", "hv-b", "hv-a"},
			want:  []string{"hv-b", "hv-a"},
		},
		{
			name:  "drops empty entries",
			input: []string{"", "  ", "host1"},
			want:  []string{"host1"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalHosts(tt.input))
		})
	}
}

func TestScopeKeyIdentity(t *testing.T) {
	a := NewScopeKey(ScopeVMs, []string{"ESX01", "esx02"}, LevelSummary)
	b := NewScopeKey(ScopeVMs, []string{"esx01 ", "ESX02", "esx01"}, LevelSummary)
	c := NewScopeKey(ScopeVMs, []string{"esx02", "esx01"}, LevelSummary)

	assert.True(t, a.Equal(b), "same hosts after canonicalization must match")
	assert.False(t, a.Equal(c), "host order is part of the identity")
	assert.Equal(t, "vms|summary|esx01,esx02", a.String())
	assert.Equal(t, "esx01,esx02", a.HostsKey())
}

func TestScopeKeyLevelSeparation(t *testing.T) {
	summary := NewScopeKey(ScopeHosts, []string{"h1"}, LevelSummary)
	detail := NewScopeKey(ScopeHosts, []string{"h1"}, LevelDetail)
	assert.False(t, summary.Equal(detail))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" VMware ")
	require.NoError(t, err)
	assert.Equal(t, ProviderVMware, p)

	_, err = ParseProvider("xen")
	assert.Error(t, err)
}

func TestParseLevelDefaultsToSummary(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelSummary, lvl)

	_, err = ParseLevel("full")
	assert.Error(t, err)
}
