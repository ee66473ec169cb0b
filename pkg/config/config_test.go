package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestDefaultConfig tests the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, log.InfoLevel, cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Listen)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.Interval.Std())
	assert.Equal(t, 10*time.Minute, cfg.Reconciler.ProvisioningTimeout.Std())
	assert.Equal(t, 20*time.Second, cfg.Planner.CallTimeout.Std())
	assert.Equal(t, time.Hour, cfg.Runs.RetryLimit.Std())
	assert.Equal(t, 5*time.Minute, cfg.Runs.IdleDuration.Std())
	assert.Empty(t, cfg.Backends)
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, DefaultSitesDir, cfg.Gateway.SitesDir)
	assert.Equal(t, CertIssuerNone, cfg.Gateway.CertIssuer)

	require.NoError(t, cfg.Validate())
}

// TestLoadEmptyPath tests that no file means the defaults
func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

// TestLoadOverridesDefaults tests that the file overrides only what it names
func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/windrose-test
log:
  level: debug
  json: true
reconciler:
  interval: 30s
  provisioning_timeout: 1200
runs:
  retry_limit: 2h
backends:
  - type: aws
    settings:
      region: us-east-1
  - type: remote
gateway:
  enabled: true
  domain: apps.example.com
  sudo: true
  cert_issuer: acme
  acme:
    email: ops@example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/windrose-test", cfg.DataDir)
	assert.Equal(t, log.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.Interval.Std())
	assert.Equal(t, 20*time.Minute, cfg.Reconciler.ProvisioningTimeout.Std())
	assert.Equal(t, 2*time.Hour, cfg.Runs.RetryLimit.Std())

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, types.BackendTypeAWS, cfg.Backends[0].Type)
	assert.Equal(t, map[string]string{"region": "us-east-1"}, cfg.Backends[0].Settings)
	assert.Equal(t, types.BackendTypeRemote, cfg.Backends[1].Type)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, "apps.example.com", cfg.Gateway.Domain)
	assert.True(t, cfg.Gateway.Sudo)
	assert.Equal(t, CertIssuerACME, cfg.Gateway.CertIssuer)
	assert.Equal(t, "ops@example.com", cfg.Gateway.ACME.Email)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Listen)
	assert.Equal(t, 20*time.Second, cfg.Planner.CallTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.Runs.IdleDuration.Std())
	assert.Equal(t, DefaultSitesDir, cfg.Gateway.SitesDir)
}

// TestLoadMissingFile tests the error for an absent path
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// TestLoadRejectsBadYAML tests the parse error path
func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "data_dir: [broken")
	_, err := Load(path)
	require.Error(t, err)
}

// TestValidateRejectsUnknownIssuer tests the cert issuer whitelist
func TestValidateRejectsUnknownIssuer(t *testing.T) {
	path := writeConfig(t, "gateway:\n  cert_issuer: letsencrypt\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert issuer")
}

// TestValidateRejectsGatewayWithoutDomain tests the enabled/domain pairing
func TestValidateRejectsGatewayWithoutDomain(t *testing.T) {
	path := writeConfig(t, "gateway:\n  enabled: true\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wildcard domain")
}

// TestValidateRejectsUntypedBackend tests that backend sections need a type
func TestValidateRejectsUntypedBackend(t *testing.T) {
	path := writeConfig(t, "backends:\n  - settings:\n      region: us-east-1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no type")
}
