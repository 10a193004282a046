package ctlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/rpc"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/hooks"
)

// Client is the RPC client for the control device.
type Client struct {
	path   string
	client *rpc.Client
	mu     sync.RWMutex
}

// NewClient connects to the control device at path.
func NewClient(path string) (*Client, error) {
	if path == "" {
		path = brand.GetSocketPath()
	}
	client, err := rpc.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control device at %s: %w", path, err)
	}
	return &Client{path: path, client: client}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// call wraps the RPC call with reconnection logic. A request that may
// have reached the daemon is only resent when it is idempotent.
func (c *Client) call(serviceMethod string, args any, reply *Reply, idempotent bool) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	err := client.Call(serviceMethod, args, reply)
	if err == nil {
		return reply.err()
	}

	// ErrShutdown means the request was never written.
	retry := errors.Is(err, rpc.ErrShutdown) || (idempotent && isNetworkError(err))
	if !retry {
		return err
	}
	if recErr := c.reconnect(client); recErr != nil {
		return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
	}
	c.mu.RLock()
	client = c.client
	c.mu.RUnlock()
	if err := client.Call(serviceMethod, args, reply); err != nil {
		return fmt.Errorf("control device closed the connection: %w", err)
	}
	return reply.err()
}

// reconnect attempts to establish a new connection.
func (c *Client) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != oldClient && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("failed to reconnect to control device: %w", err)
	}
	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}

func (r *Reply) err() error {
	if r.Errno == 0 {
		return nil
	}
	return &RemoteError{Errno: unix.Errno(r.Errno), Msg: r.Error}
}

// Ioctl sends one raw request.
func (c *Client) Ioctl(op Opcode, payload []byte) ([]byte, error) {
	var reply Reply
	if err := c.call(ServiceName+".Ioctl", &IoctlArgs{Op: op, Payload: payload}, &reply, op.ReadOnly()); err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// Version returns the daemon's control protocol version.
func (c *Client) Version() (int, error) {
	out, err := c.Ioctl(OpVersion, nil)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(out))
	if err != nil {
		return 0, fmt.Errorf("malformed version reply %q: %w", out, err)
	}
	return v, nil
}

// Stats returns the engine counters.
func (c *Client) Stats() (*engine.Stats, error) {
	out, err := c.Ioctl(OpStats, nil)
	if err != nil {
		return nil, err
	}
	var st engine.Stats
	if err := json.Unmarshal(out, &st); err != nil {
		return nil, fmt.Errorf("malformed stats reply: %w", err)
	}
	return &st, nil
}

// Save returns the active ruleset document.
func (c *Client) Save() ([]byte, error) {
	return c.Ioctl(OpSave, nil)
}

// Load replaces the ruleset with the given document.
func (c *Client) Load(ruleset []byte) error {
	_, err := c.Ioctl(OpLoad, ruleset)
	return err
}

// Switch enables or disables the packet hooks.
func (c *Client) Switch(enable bool) error {
	payload, err := json.Marshal(hooks.SwitchRequest{Enable: enable})
	if err != nil {
		return err
	}
	_, err = c.Ioctl(OpSwitch, payload)
	return err
}

// Table runs a table operation.
func (c *Client) Table(req engine.TableRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.Ioctl(OpTable, payload)
}

// Rule runs a rule operation.
func (c *Client) Rule(req engine.RuleRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.Ioctl(OpRule, payload)
}

// Poll always fails with ErrOperationNotSupported.
func (c *Client) Poll() error {
	var reply Reply
	return c.call(ServiceName+".Poll", &Empty{}, &reply, true)
}

// Read always fails with ErrOperationNotSupported.
func (c *Client) Read() error {
	var reply Reply
	return c.call(ServiceName+".Read", &Empty{}, &reply, true)
}

var _ ControlClient = (*Client)(nil)
