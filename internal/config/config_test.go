package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBrandEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NPFD_CONFIG", "")
	t.Setenv("NPFD_PREFIX", "")
	t.Setenv("NPFD_RUN_DIR", "")
}

func TestDefault(t *testing.T) {
	clearBrandEnv(t)
	c := Default()
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "pass", c.DefaultAction)
	assert.Equal(t, "/run/npfd/npf.sock", c.Control.Socket)
	assert.Equal(t, os.FileMode(0o600), c.Control.SocketMode())
	assert.Equal(t, []uint32{0}, c.Control.UIDs())
	assert.Nil(t, c.Control.GID())
	assert.Equal(t, "npf", c.Engine.Table)
	assert.Equal(t, "inet", c.Engine.Family)
	assert.Equal(t, []string{"input", "forward", "output"}, c.Hooks.Chains)
	require.NotNil(t, c.Hooks.WatchLinks)
	assert.True(t, *c.Hooks.WatchLinks)
	assert.Equal(t, "127.0.0.1:9180", c.Metrics.Listen)
	assert.False(t, c.Validate().HasErrors())
}

func TestParseConfig(t *testing.T) {
	src := `
log_level      = "debug"
log_json       = true
default_action = "block"

control {
  socket     = "/var/run/npf.sock"
  mode       = "0660"
  admin_uids = [0, 990]
  admin_gid  = 50
}

engine {
  table  = "filter0"
  family = "ip"
}

hooks {
  chains      = ["input"]
  priority    = -10
  watch_links = false
}

metrics {
  listen = ""
}
`
	c, err := Parse("npfd.hcl", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.True(t, c.LogJSON)
	assert.Equal(t, "block", c.DefaultAction)
	assert.Equal(t, "/var/run/npf.sock", c.Control.Socket)
	assert.Equal(t, os.FileMode(0o660), c.Control.SocketMode())
	assert.Equal(t, []uint32{0, 990}, c.Control.UIDs())
	require.NotNil(t, c.Control.GID())
	assert.Equal(t, uint32(50), *c.Control.GID())
	assert.Equal(t, "filter0", c.Engine.Table)
	assert.Equal(t, "ip", c.Engine.Family)
	assert.Equal(t, []string{"input"}, c.Hooks.Chains)
	assert.Equal(t, -10, c.Hooks.Priority)
	assert.False(t, *c.Hooks.WatchLinks)
	assert.Empty(t, c.Metrics.Listen)
}

func TestParsePartialBlockGetsDefaults(t *testing.T) {
	clearBrandEnv(t)
	c, err := Parse("npfd.hcl", []byte(`
control {
  admin_gid = 10
}
`))
	require.NoError(t, err)
	assert.Equal(t, "/run/npfd/npf.sock", c.Control.Socket)
	assert.Equal(t, []uint32{0}, c.Control.UIDs())
	assert.Equal(t, uint32(10), *c.Control.GID())
}

func TestDefaultSocketFollowsRunDir(t *testing.T) {
	clearBrandEnv(t)
	t.Setenv("NPFD_RUN_DIR", "/tmp/npfd-run")
	assert.Equal(t, "/tmp/npfd-run/npf.sock", Default().Control.Socket)

	t.Setenv("NPFD_RUN_DIR", "")
	t.Setenv("NPFD_PREFIX", "/opt/npfd")
	c, err := Parse("npfd.hcl", []byte(`log_level = "debug"`))
	require.NoError(t, err)
	assert.Equal(t, "/opt/npfd/run/npf.sock", c.Control.Socket)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("NPFD_TEST_RUNDIR", "/tmp/npfd-test")
	c, err := Parse("npfd.hcl", []byte(`
control {
  socket = "${env.NPFD_TEST_RUNDIR}/npf.sock"
}
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/npfd-test/npf.sock", c.Control.Socket)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `log_level = `, "failed to decode config"},
		{"unknown attribute", `colour = "blue"`, "failed to decode config"},
		{"bad level", `log_level = "chatty"`, "log_level"},
		{"bad action", `default_action = "reject"`, "default_action"},
		{"relative socket", "control {\n socket = \"npf.sock\"\n}", "control.socket"},
		{"bad mode", "control {\n mode = \"rw\"\n}", "control.mode"},
		{"bad family", "engine {\n family = \"bridge\"\n}", "engine.family"},
		{"bad table", "engine {\n table = \"no spaces\"\n}", "engine.table"},
		{"unknown hook", "hooks {\n chains = [\"ingress\"]\n}", "hooks.chains"},
		{"duplicate hook", "hooks {\n chains = [\"input\", \"INPUT\"]\n}", "listed twice"},
		{"bad listen", "metrics {\n listen = \"localhost\"\n}", "metrics.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("npfd.hcl", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "npfd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`default_action = "drop"`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "drop", c.DefaultAction)

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHCLRoundTrip(t *testing.T) {
	c := Default()
	gid := 7
	c.Control.AdminGID = &gid
	c.Hooks.Priority = 5

	out := c.HCL()
	assert.Contains(t, string(out), "control {")

	back, err := Parse("rendered.hcl", out)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
