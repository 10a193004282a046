package brand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	t.Setenv("NPFD_CONFIG", "")
	t.Setenv("NPFD_PREFIX", "")
	t.Setenv("NPFD_RUN_DIR", "")

	assert.Equal(t, "/etc/npfd/npfd.hcl", GetConfigPath())
	assert.Equal(t, "/run/npfd", GetRunDir())
	assert.Equal(t, "/run/npfd/npf.sock", GetSocketPath())
	assert.NotEmpty(t, Version)
}

func TestPrefix(t *testing.T) {
	t.Setenv("NPFD_CONFIG", "")
	t.Setenv("NPFD_RUN_DIR", "")
	t.Setenv("NPFD_PREFIX", "/opt/npfd")

	assert.Equal(t, "/opt/npfd/etc/npfd.hcl", GetConfigPath())
	assert.Equal(t, "/opt/npfd/run/npf.sock", GetSocketPath())
}

func TestExplicitOverrides(t *testing.T) {
	t.Setenv("NPFD_PREFIX", "/opt/npfd")
	t.Setenv("NPFD_CONFIG", "/tmp/test.hcl")
	t.Setenv("NPFD_RUN_DIR", "/tmp/run")

	assert.Equal(t, "/tmp/test.hcl", GetConfigPath())
	assert.Equal(t, "/tmp/run/npf.sock", GetSocketPath())
}
