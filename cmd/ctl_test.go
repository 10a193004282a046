package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/npfd/internal/ctlplane"
	"grimm.is/npfd/internal/engine"
)

func runMock(t *testing.T, setup func(m *ctlplane.MockControlClient), args ...string) (string, error) {
	t.Helper()
	m := new(ctlplane.MockControlClient)
	if setup != nil {
		setup(m)
	}
	var out bytes.Buffer
	err := runCtl(m, args, &out)
	m.AssertExpectations(t)
	return out.String(), err
}

func TestCtlVersion(t *testing.T) {
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Version").Return(ctlplane.Version, nil)
	}, "version")
	require.NoError(t, err)
	assert.Equal(t, "12\n", out)
}

func TestCtlStats(t *testing.T) {
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Stats").Return(&engine.Stats{
			DefaultAction: "pass",
			Tables:        2,
			Rules: []engine.RuleStats{
				{Name: "ssh", Action: "block", Packets: 3, Bytes: 180},
				{Name: "default", Action: "pass", Packets: 7, Bytes: 420},
			},
			Packets: 10,
			Bytes:   600,
		}, nil)
	}, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Default action: pass")
	assert.Contains(t, out, "Tables: 2")
	assert.Contains(t, out, "10 packets, 600 bytes")
	assert.Regexp(t, `ssh\s+block\s+3\s+180`, out)
	assert.Regexp(t, `default\s+pass\s+7\s+420`, out)
}

func TestCtlSave(t *testing.T) {
	doc := []byte(`{"default_action":"pass"}`)

	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Save").Return(doc, nil)
	}, "save")
	require.NoError(t, err)
	assert.Equal(t, string(doc)+"\n", out)

	path := filepath.Join(t.TempDir(), "rules.json")
	_, err = runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Save").Return(doc, nil)
	}, "save", path)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestCtlLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	doc := []byte(`{"default_action":"block"}`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Load", doc).Return(nil)
	}, "load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Ruleset loaded")

	_, err = runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Load", doc).Return(ctlplane.ErrPermissionDenied)
	}, "load", path)
	assert.ErrorIs(t, err, ctlplane.ErrPermissionDenied)

	_, err = runMock(t, nil, "load")
	assert.Error(t, err)

	_, err = runMock(t, nil, "load", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCtlSwitch(t *testing.T) {
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Switch", true).Return(nil)
	}, "switch", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "attached")

	out, err = runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Switch", false).Return(nil)
	}, "switch", "OFF")
	require.NoError(t, err)
	assert.Contains(t, out, "detached")

	_, err = runMock(t, nil, "switch", "maybe")
	assert.Error(t, err)
}

func TestCtlTable(t *testing.T) {
	req := engine.TableRequest{Op: "add", Table: "bad", Elements: []string{"10.0.0.1"}}
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Table", req).Return([]byte(`{"name":"bad","elements":["10.0.0.1"]}`), nil)
	}, "table", `{"op":"add","table":"bad","elements":["10.0.0.1"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "\"name\": \"bad\"")

	_, err = runMock(t, nil, "table", `{"op":"add","colour":"blue"}`)
	assert.ErrorContains(t, err, "invalid request")

	_, err = runMock(t, nil, "table")
	assert.Error(t, err)
}

func TestCtlRuleFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"op":"add","rule":{"name":"ssh","action":"block"}}`), 0o600))

	req := engine.RuleRequest{Op: "add", Rule: engine.Rule{Name: "ssh", Action: "block"}}
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Rule", req).Return(nil, nil)
	}, "rule", "@"+path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCtlDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "default_action": "pass",
  "rules": [{"name": "ssh", "action": "block"}]
}`), 0o600))

	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Save").Return([]byte(`{"default_action":"pass","rules":[{"name":"ssh","action":"block"}]}`), nil)
	}, "diff", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No changes detected.")

	out, err = runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Save").Return([]byte(`{"default_action":"block"}`), nil)
	}, "diff", path)
	assert.ErrorIs(t, err, ErrRulesetDiffers)
	assert.Contains(t, out, "--- running")
	assert.Contains(t, out, `-  "default_action": "block"`)
	assert.Contains(t, out, `+  "default_action": "pass",`)
}

func TestCtlUnsupported(t *testing.T) {
	_, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Poll").Return(ctlplane.ErrOperationNotSupported)
	}, "poll")
	assert.ErrorIs(t, err, ctlplane.ErrOperationNotSupported)

	_, err = runMock(t, nil, "frobnicate")
	assert.ErrorContains(t, err, "unknown ctl command")

	_, err = runMock(t, nil)
	assert.Error(t, err)
}

func TestCtlRemoteError(t *testing.T) {
	remote := errors.New("engine busy")
	_, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Stats").Return(nil, remote)
	}, "stats")
	assert.ErrorIs(t, err, remote)
}

func TestCtlRawIoctl(t *testing.T) {
	out, err := runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Ioctl", ctlplane.OpSave, []byte(nil)).Return([]byte(`{"default_action":"pass"}`), nil)
	}, "ioctl", "save")
	require.NoError(t, err)
	assert.Contains(t, out, `"default_action": "pass"`)

	_, err = runMock(t, func(m *ctlplane.MockControlClient) {
		m.On("Ioctl", ctlplane.OpSwitch, []byte(`{"enable":false}`)).Return(nil, nil)
	}, "ioctl", "SWITCH", `{"enable":false}`)
	require.NoError(t, err)

	_, err = runMock(t, nil, "ioctl", "reboot")
	assert.ErrorContains(t, err, "unknown opcode")

	_, err = runMock(t, nil, "ioctl")
	assert.Error(t, err)
}
