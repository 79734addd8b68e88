package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func effectiveConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	out, err := execute(t, append([]string{"config"}, args...)...)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, toml.Unmarshal([]byte(out), &cfg))
	return cfg
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Equal(t, "termmux version "+version+"\n", out)
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")

	cfg := effectiveConfig(t)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, uint16(80), cfg.Terminal.Cols)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termmux.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "7000"
host = "0.0.0.0"

[terminal]
shell = "/bin/bash"
`), 0o644))
	t.Setenv("HOST", "10.0.0.1")

	cfg := effectiveConfig(t, "--config", path, "--port", "9000", "--dev")

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, "/bin/bash", cfg.Terminal.Shell)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestInvalidConfigFails(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.toml"))

	assert.Error(t, err)
}
