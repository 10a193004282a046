//go:build linux

package ctlplane

import (
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/logging"
)

func startDevice(t *testing.T, auth Authorizer, e engine.Engine) (*Device, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run", "npf.sock")
	dev := NewDevice(path, 0o600, logging.Discard())
	d := NewDispatcher(source{e}, &stubSwitch{}, auth, logging.Discard())
	require.NoError(t, dev.Register(d))
	t.Cleanup(func() { dev.Unregister() })
	return dev, path
}

func self() AdminPolicy {
	return AdminPolicy{UIDs: []uint32{uint32(os.Getuid())}}
}

func TestDeviceRoundTrip(t *testing.T) {
	dev, path := startDevice(t, self(), &stubEngine{})
	assert.True(t, dev.Registered())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, "pass", st.DefaultAction)

	out, err := c.Table(engine.TableRequest{Op: "list", Table: "t"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"table":"t"`)

	require.NoError(t, c.Switch(true))
	require.NoError(t, c.Load([]byte(`{}`)))
}

func TestDevicePollAndRead(t *testing.T) {
	_, path := startDevice(t, self(), &stubEngine{})
	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.Poll(), ErrOperationNotSupported)
	assert.ErrorIs(t, c.Read(), ErrOperationNotSupported)
	assert.ErrorIs(t, c.Read(), unix.ENOTSUP)
}

func TestDeviceErrorsMapBack(t *testing.T) {
	_, path := startDevice(t, self(), &stubEngine{err: engine.ErrBusy})
	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Ioctl(Opcode(77), nil)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.ErrorIs(t, err, unix.ENOTTY)

	_, err = c.Save()
	assert.ErrorIs(t, err, engine.ErrBusy)
}

func TestDeviceDeniesPeerOnOpen(t *testing.T) {
	deny := AuthorizerFunc(func(Credentials) error { return ErrPermissionDenied })
	eng := &stubEngine{}
	_, path := startDevice(t, deny, eng)

	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Version()
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, unix.EPERM)

	_, err = c.Save()
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, c.Poll(), ErrPermissionDenied)
	assert.ErrorIs(t, c.Read(), ErrPermissionDenied)
	assert.Zero(t, eng.calls.Load())
}

func TestDeviceUnregister(t *testing.T) {
	dev, path := startDevice(t, self(), &stubEngine{})
	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Version()
	require.NoError(t, err)

	require.NoError(t, dev.Unregister())
	assert.False(t, dev.Registered())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Idempotent.
	require.NoError(t, dev.Unregister())

	_, err = c.Version()
	assert.Error(t, err)
}

func TestDeviceRegisterIsIdempotent(t *testing.T) {
	dev, path := startDevice(t, self(), &stubEngine{})
	d := NewDispatcher(source{nil}, &stubSwitch{}, self(), logging.Discard())
	require.NoError(t, dev.Register(d))

	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()
	// Still served by the first handler, which has an engine.
	_, err = c.Stats()
	assert.NoError(t, err)
}

func TestDeviceReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npf.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	dev := NewDevice(path, 0, logging.Discard())
	require.NoError(t, dev.Register(NewDispatcher(source{nil}, &stubSwitch{}, self(), logging.Discard())))
	defer dev.Unregister()

	c, err := NewClient(path)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Version()
	assert.NoError(t, err)
}

// droppingControl closes its connection while handling the first request,
// after the request has been received.
type droppingControl struct {
	calls *atomic.Int32
	conn  net.Conn
}

func (d *droppingControl) Ioctl(_ *IoctlArgs, reply *Reply) error {
	if d.calls.Add(1) == 1 {
		d.conn.Close()
	}
	reply.Payload = []byte(`{}`)
	return nil
}

func serveDropping(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npf.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	calls := new(atomic.Int32)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv := rpc.NewServer()
			if err := srv.RegisterName(ServiceName, &droppingControl{calls: calls, conn: conn}); err != nil {
				conn.Close()
				return
			}
			go srv.ServeConn(conn)
		}
	}()
	return path, calls
}

func TestClientRetriesOnlyReadOnlyRequests(t *testing.T) {
	tests := []struct {
		name      string
		call      func(c *Client) error
		wantCalls int32
		wantErr   bool
	}{
		{"load", func(c *Client) error { return c.Load([]byte(`{}`)) }, 1, true},
		{"rule", func(c *Client) error { _, err := c.Rule(engine.RuleRequest{Op: "add"}); return err }, 1, true},
		{"save", func(c *Client) error { _, err := c.Save(); return err }, 2, false},
		{"stats", func(c *Client) error { _, err := c.Stats(); return err }, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, calls := serveDropping(t)
			c, err := NewClient(path)
			require.NoError(t, err)
			defer c.Close()

			err = tt.call(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClientRedialsAfterClose(t *testing.T) {
	_, path := startDevice(t, self(), &stubEngine{})
	c, err := NewClient(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// A closed client redials before sending, so even a load goes through.
	require.NoError(t, c.Load([]byte(`{}`)))
}

func TestOpcodeReadOnly(t *testing.T) {
	for _, op := range []Opcode{OpStats, OpSave, OpVersion} {
		assert.True(t, op.ReadOnly(), op.String())
	}
	for _, op := range []Opcode{OpTable, OpRule, OpSwitch, OpLoad, Opcode(42)} {
		assert.False(t, op.ReadOnly(), op.String())
	}
}
