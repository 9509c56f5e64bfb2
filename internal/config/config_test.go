package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
adminApiKey: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "priority", cfg.LoadBalancingMode)
	assert.Equal(t, "data/credentials.json", cfg.CredentialsFile)
	assert.Equal(t, "data/balance_cache.json", cfg.BalanceCacheFile)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 300, cfg.RefreshSkewSeconds)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
host: 127.0.0.1
port: 9999
loadBalancingMode: balanced
failureThreshold: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "balanced", cfg.LoadBalancingMode)
	assert.Equal(t, 10, cfg.FailureThreshold)
}

func TestLoadRejectsInvalidLoadBalancingMode(t *testing.T) {
	path := writeConfig(t, `
loadBalancingMode: round-robin
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsCloudPassMissingLicenseCode(t *testing.T) {
	path := writeConfig(t, `
cloudPass:
  serverUrl: https://license.example.com
`)
	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "licenseCode")
}

func TestLoadAppliesCloudPassDefaults(t *testing.T) {
	path := writeConfig(t, `
cloudPass:
  licenseCode: LIC123
  serverUrl: https://license.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.CloudPass)
	assert.Equal(t, 300, cfg.CloudPass.RefreshInterval)
	assert.Equal(t, "1.0.0", cfg.CloudPass.ClientVersion)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
