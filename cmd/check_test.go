package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/npfd/internal/config"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npfd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunCheck(t *testing.T) {
	path := writeConfig(t, `
default_action = "block"

hooks {
  chains = ["input"]
}

metrics {
  listen = ""
}
`)

	var out bytes.Buffer
	require.NoError(t, RunCheck(path, false, &out))
	assert.Equal(t, "Configuration valid!\n", out.String())

	out.Reset()
	require.NoError(t, RunCheck(path, true, &out))
	assert.Regexp(t, `Default action:\s+block`, out.String())
	assert.Regexp(t, `Hooks:\s+\[input\]`, out.String())
	assert.Regexp(t, `Metrics:\s+disabled`, out.String())
}

func TestRunCheckInvalid(t *testing.T) {
	path := writeConfig(t, `default_action = "reject"`)
	err := RunCheck(path, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration invalid")
	assert.Contains(t, err.Error(), "default_action")

	assert.Error(t, RunCheck("", false, &bytes.Buffer{}))
}

func TestLoadConfigFallsBackAtDefaultPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "npfd.hcl")
	t.Setenv("NPFD_CONFIG", missing)

	cfg, err := loadConfig(missing)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = loadConfig(filepath.Join(t.TempDir(), "other.hcl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunConfig(t *testing.T) {
	path := writeConfig(t, `default_action = "drop"`)

	var out bytes.Buffer
	require.NoError(t, RunConfig(path, &out))

	back, err := config.Parse("out.hcl", out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "drop", back.DefaultAction)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogJSON = true

	var out bytes.Buffer
	logger, err := newLogger(cfg, &out)
	require.NoError(t, err)
	logger.Info("hello")
	assert.Contains(t, out.String(), `"msg":"hello"`)

	cfg.LogLevel = "chatty"
	_, err = newLogger(cfg, &out)
	assert.Error(t, err)
}
