package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/models"
)

func TestAuthenticatorGrants(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{
		Enabled: true,
		Tokens: map[string][]string{
			"scoped": {"vmware", "OVirt "},
			"admin":  {"*"},
		},
	})

	assert.True(t, auth.CanView("scoped", models.ProviderVMware))
	assert.True(t, auth.CanView("scoped", models.ProviderOVirt), "grants are normalized")
	assert.False(t, auth.CanView("scoped", models.ProviderAzure))
	assert.True(t, auth.CanView("admin", models.ProviderAzure))
	assert.False(t, auth.CanView("unknown", models.ProviderVMware))

	assert.True(t, auth.ValidateToken("scoped"))
	assert.False(t, auth.ValidateToken("unknown"))
}

func TestAuthenticatorDisabledAllowsAll(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{Enabled: false})
	assert.True(t, auth.CanView("", models.ProviderCEDIA))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc123", BearerToken("Bearer abc123"))
	assert.Equal(t, "abc123", BearerToken("bearer abc123"), "scheme is case-insensitive")
	assert.Empty(t, BearerToken(""))
	assert.Empty(t, BearerToken("Basic dXNlcg=="))
	assert.Empty(t, BearerToken("Bearer"))
}
