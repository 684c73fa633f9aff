package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"driftsync/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.Init(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Controller.Workers)
	assert.Equal(t, 5, cfg.Controller.MaxRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8334, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "repos"), cfg.Source.CacheDir)
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
logLevel: debug
controller:
  workers: 8
  reconcileTimeoutSeconds: 120
server:
  port: 9000
source:
  pollIntervalSeconds: 10
  cacheDir: /tmp/driftsync-repos
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Controller.Workers)
	assert.Equal(t, 120, cfg.Controller.ReconcileTimeoutSeconds)
	// Untouched fields keep defaults.
	assert.Equal(t, 5, cfg.Controller.MaxRetries)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/driftsync-repos", cfg.Source.CacheDir)
}

func TestLoadConfigCustomResources(t *testing.T) {
	dir := t.TempDir()
	content := `
customResources:
  - group: cert-manager.io
    kind: Certificate
    resource: certificates
    version: v1
    namespaced: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Len(t, cfg.CustomResources, 1)
	cr := cfg.CustomResources[0]
	assert.Equal(t, "cert-manager.io", cr.Group)
	assert.Equal(t, "Certificate", cr.Kind)
	assert.Equal(t, "certificates", cr.Resource)
	assert.Equal(t, "v1", cr.Version)
	assert.True(t, cr.Namespaced)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("controller: [not a map"), 0644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestDurationAccessors(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "1s", cfg.Controller.InitialBackoff().String())
	assert.Equal(t, "5m0s", cfg.Controller.MaxBackoff().String())
	assert.Equal(t, "1m0s", cfg.Controller.ReconcileTimeout().String())
	assert.Equal(t, "3m0s", cfg.Controller.ResyncInterval().String())
	assert.Equal(t, "30s", cfg.Source.PollInterval().String())
}
