package ctlplane

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
)

// ServiceName is the RPC service name of the control device.
const ServiceName = "Control"

// Device serves a Handler on a Unix socket.
type Device struct {
	path     string
	mode     os.FileMode
	logger   *logging.Logger
	peerCred func(net.Conn) (Credentials, error)

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewDevice returns an unregistered device bound to path.
func NewDevice(path string, mode os.FileMode, logger *logging.Logger) *Device {
	if path == "" {
		path = brand.GetSocketPath()
	}
	if mode == 0 {
		mode = 0o600
	}
	if logger == nil {
		logger = logging.WithComponent("ctlplane")
	}
	return &Device{
		path:     path,
		mode:     mode,
		logger:   logger,
		peerCred: peerCredentials,
	}
}

// Path returns the socket path.
func (d *Device) Path() string {
	return d.path
}

// Registered reports whether the device is accepting connections.
func (d *Device) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener != nil
}

// Register creates the socket and starts serving h. Registering an
// already registered device is a no-op.
func (d *Device) Register(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A stale socket from a previous run would make Listen fail.
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", d.path, err)
	}

	listener, err := net.Listen("unix", d.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.path, err)
	}
	if err := os.Chmod(d.path, d.mode); err != nil {
		listener.Close()
		os.Remove(d.path)
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	d.listener = listener
	d.conns = make(map[net.Conn]struct{})
	d.wg.Add(1)
	go d.acceptLoop(listener, h)

	metrics.SetBool(metrics.Get().DeviceRegistered, true)
	d.logger.Info("control device listening", "socket", d.path)
	return nil
}

// Unregister stops accepting, drops open connections, waits for their
// handlers and removes the socket. It is a no-op when not registered.
func (d *Device) Unregister() error {
	d.mu.Lock()
	listener := d.listener
	if listener == nil {
		d.mu.Unlock()
		return nil
	}
	d.listener = nil
	err := listener.Close()
	for conn := range d.conns {
		conn.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()

	if rerr := os.Remove(d.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	metrics.SetBool(metrics.Get().DeviceRegistered, false)
	d.logger.Info("control device removed", "socket", d.path)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close control device: %w", err)
	}
	return nil
}

func (d *Device) acceptLoop(listener net.Listener, h Handler) {
	defer d.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.logger.Error("accept failed", "error", err)
			}
			return
		}
		if !d.track(conn) {
			conn.Close()
			return
		}
		d.wg.Add(1)
		go d.serve(conn, h)
	}
}

func (d *Device) track(conn net.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return false
	}
	d.conns[conn] = struct{}{}
	return true
}

func (d *Device) untrack(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, conn)
}

// serve runs one connection: open authorizes the peer, then requests are
// served until the peer hangs up. Closing needs no bookkeeping.
func (d *Device) serve(conn net.Conn, h Handler) {
	defer d.wg.Done()
	defer d.untrack(conn)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("control connection handler panicked", "panic", r)
		}
	}()

	cred, err := d.peerCred(conn)
	if err != nil {
		d.logger.Warn("failed to read peer credentials", "error", err)
		return
	}
	var svc any = &Control{handler: h, cred: cred}
	if err := h.Authorize(cred); err != nil {
		// The peer stays connected so every call it makes is answered
		// with EPERM rather than a reset it cannot tell from a crash.
		svc = deniedControl{}
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, svc); err != nil {
		d.logger.Error("failed to register control service", "error", err)
		return
	}
	srv.ServeConn(conn)
}

// Control is the RPC surface of one open control device.
type Control struct {
	handler Handler
	cred    Credentials
}

// Ioctl dispatches one request.
func (c *Control) Ioctl(args *IoctlArgs, reply *Reply) error {
	resp, err := c.handler.Handle(Request{Op: args.Op, Payload: args.Payload, Cred: c.cred})
	reply.Payload = resp.Payload
	reply.setError(err)
	return nil
}

// Poll is not supported; the device has no asynchronous notifications.
func (c *Control) Poll(_ *Empty, reply *Reply) error {
	reply.setError(ErrOperationNotSupported)
	return nil
}

// Read is not supported.
func (c *Control) Read(_ *Empty, reply *Reply) error {
	reply.setError(ErrOperationNotSupported)
	return nil
}

// deniedControl serves a peer that failed authorization on open.
type deniedControl struct{}

func (deniedControl) Ioctl(_ *IoctlArgs, reply *Reply) error {
	reply.setError(ErrPermissionDenied)
	return nil
}

func (deniedControl) Poll(_ *Empty, reply *Reply) error {
	reply.setError(ErrPermissionDenied)
	return nil
}

func (deniedControl) Read(_ *Empty, reply *Reply) error {
	reply.setError(ErrPermissionDenied)
	return nil
}
