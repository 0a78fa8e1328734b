package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
access_id: dev-1
access_secret: dev-secret
endpoint: https://gw.example.com
custom_mcp_server_endpoint: http://localhost:3000/sse
ping_interval: 15s
ping_timeout: 5s
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "dev-1", cfg.AccessID)
	assert.Equal(t, "dev-secret", cfg.AccessSecret)
	assert.Equal(t, "https://gw.example.com", cfg.Endpoint)
	assert.Equal(t, "http://localhost:3000/sse", cfg.CustomMCPServerEndpoint)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.PingTimeout)
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
access_id: dev-1
access_secret: dev-secret
endpoint: https://gw.example.com
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PingTimeout)
	assert.Empty(t, cfg.CustomMCPServerEndpoint)
}

func TestLoadFile_MissingCredentials(t *testing.T) {
	path := writeConfigFile(t, `
access_id: dev-1
`)

	_, err := LoadFile(path)
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "access_id: [unclosed")

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("MCP_ACCESS_ID", "env-1")
	t.Setenv("MCP_ACCESS_SECRET", "env-secret")
	t.Setenv("MCP_ENDPOINT", "https://gw.example.com")
	t.Setenv("MCP_PING_INTERVAL", "20s")

	cfg, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "env-1", cfg.AccessID)
	assert.Equal(t, "env-secret", cfg.AccessSecret)
	assert.Equal(t, 20*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PingTimeout)
}

func TestLoad_PrefersFile(t *testing.T) {
	path := writeConfigFile(t, `
access_id: file-1
access_secret: file-secret
endpoint: https://gw.example.com
`)

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MCP_ACCESS_ID", "env-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-1", cfg.AccessID)
}

func TestLoad_FallsBackToEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MCP_ACCESS_ID", "env-1")
	t.Setenv("MCP_ACCESS_SECRET", "env-secret")
	t.Setenv("MCP_ENDPOINT", "https://gw.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-1", cfg.AccessID)
}
