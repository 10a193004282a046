// Package lifecycle brings the packet filter online and takes it down.
//
// Bring-up runs in a fixed order: create the engine, publish it, attach
// the packet hooks, register the control device. Every failure after the
// engine exists is unwound by the same teardown routine that Deactivate
// runs, so a failed activation leaves nothing behind.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"grimm.is/npfd/internal/ctlplane"
	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/ifops"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
)

var (
	ErrEngineCreate       = errors.New("engine creation failed")
	ErrHookRegistration   = errors.New("hook registration failed")
	ErrDeviceRegistration = errors.New("control device registration failed")
	ErrAlreadyActive      = errors.New("packet filter already active")
	ErrBusy               = errors.New("packet filter busy")
	ErrUnsupportedCommand = errors.New("unsupported module command")
)

// HookLayer attaches the engine to the packet path.
type HookLayer interface {
	Register(init bool) error
	Unregister(init bool) error
	Registered() bool
	Switch(payload []byte) error
}

// Device is the control device.
type Device interface {
	Register(h ctlplane.Handler) error
	Unregister() error
}

// Context is the published engine of an active packet filter.
type Context struct {
	Engine engine.Engine
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Factory    engine.Factory
	Ops        ifops.Ops
	Hooks      HookLayer
	Device     Device
	Authorizer ctlplane.Authorizer
	Logger     *logging.Logger
}

// Manager owns the engine context and the registration state.
type Manager struct {
	factory engine.Factory
	ops     ifops.Ops
	hooks   HookLayer
	device  Device
	disp    *ctlplane.Dispatcher
	logger  *logging.Logger

	ctx atomic.Pointer[Context]

	mu               sync.Mutex
	deviceRegistered bool

	// hookMu guards the hook registration. It is separate from mu so a
	// switch request in flight can finish while teardown holds mu and
	// waits for the device to drain.
	hookMu         sync.Mutex
	hookRegistered bool
	hookInit       bool
}

// New returns an inactive Manager.
func New(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.WithComponent("lifecycle")
	}
	m := &Manager{
		factory: deps.Factory,
		ops:     deps.Ops,
		hooks:   deps.Hooks,
		device:  deps.Device,
		logger:  logger,
	}
	m.disp = ctlplane.NewDispatcher(m, m, deps.Authorizer, logger.WithComponent("ctlplane"))
	return m
}

// Engine returns the published engine, or nil.
func (m *Manager) Engine() engine.Engine {
	if c := m.ctx.Load(); c != nil {
		return c.Engine
	}
	return nil
}

// Dispatcher returns the dispatcher served by the control device.
func (m *Manager) Dispatcher() *ctlplane.Dispatcher {
	return m.disp
}

// Active reports whether an engine context is published.
func (m *Manager) Active() bool {
	return m.ctx.Load() != nil
}

// HookRegistered reports whether the packet hooks are attached.
func (m *Manager) HookRegistered() bool {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	return m.hookRegistered
}

// Switch attaches or detaches the packet hooks for an OpSwitch request
// and records the resulting registration state. The link watcher started
// at activation is left alone.
func (m *Manager) Switch(payload []byte) error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	err := m.hooks.Switch(payload)
	m.hookRegistered = m.hooks.Registered()
	return err
}

// DeviceRegistered reports whether the Manager holds the control device.
func (m *Manager) DeviceRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceRegistered
}

// Activate brings the packet filter online. On failure the state is as
// if Activate had never been called.
func (m *Manager) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Load() != nil {
		return ErrAlreadyActive
	}

	e, err := m.factory(m.ops)
	if err != nil {
		metrics.Get().ActivationFailures.WithLabelValues("engine").Inc()
		return fmt.Errorf("%w: %w", ErrEngineCreate, err)
	}
	m.ctx.Store(&Context{Engine: e})
	metrics.SetBool(metrics.Get().EngineActive, true)

	if err := m.registerHooks(); err != nil {
		metrics.Get().ActivationFailures.WithLabelValues("hooks").Inc()
		m.teardownLocked()
		return fmt.Errorf("%w: %w", ErrHookRegistration, err)
	}

	if err := m.device.Register(m.disp); err != nil {
		metrics.Get().ActivationFailures.WithLabelValues("device").Inc()
		m.teardownLocked()
		return fmt.Errorf("%w: %w", ErrDeviceRegistration, err)
	}
	m.deviceRegistered = true

	metrics.Get().Activations.Inc()
	m.logger.Info("packet filter activated", "default", e.DefaultAction())
	return nil
}

// Deactivate tears the packet filter down. It is safe after a partial or
// failed activation and never fails; collaborator errors are logged.
func (m *Manager) Deactivate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// teardownLocked is the only unwind path. Each step is skipped when its
// resource is not held.
func (m *Manager) teardownLocked() {
	if m.deviceRegistered {
		if err := m.device.Unregister(); err != nil {
			m.logger.Error("failed to unregister control device", "error", err)
		}
		m.deviceRegistered = false
	}

	m.unregisterHooks()

	if c := m.ctx.Load(); c != nil {
		if err := c.Engine.Destroy(); err != nil {
			m.logger.Error("failed to destroy engine", "error", err)
		}
		m.ctx.Store(nil)
		metrics.SetBool(metrics.Get().EngineActive, false)
		metrics.Get().Deactivations.Inc()
		m.logger.Info("packet filter deactivated")
	}
}

func (m *Manager) registerHooks() error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	if err := m.hooks.Register(true); err != nil {
		return err
	}
	m.hookRegistered = true
	m.hookInit = true
	return nil
}

// unregisterHooks releases the init registration, or hooks attached by a
// switch while no init registration was held.
func (m *Manager) unregisterHooks() {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	if !m.hookInit && !m.hookRegistered {
		return
	}
	if err := m.hooks.Unregister(true); err != nil {
		m.logger.Error("failed to unregister hooks", "error", err)
	}
	m.hookRegistered = false
	m.hookInit = false
}

type registration func() bool

func (r registration) Registered() bool { return r() }

// MayAutounload reports whether the filter can be removed without
// operator action.
func (m *Manager) MayAutounload() bool {
	var e DefaultActioner
	if eng := m.Engine(); eng != nil {
		e = eng
	}
	return MayAutounload(registration(m.HookRegistered), e)
}
