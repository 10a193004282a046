package ctlplane

import (
	"strconv"

	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
)

// EngineSource yields the active engine, or nil when none is published.
type EngineSource interface {
	Engine() engine.Engine
}

// Switcher toggles the packet hooks.
type Switcher interface {
	Switch(payload []byte) error
}

// Handler is what the Device serves.
type Handler interface {
	// Authorize vets a peer when it opens the device.
	Authorize(cred Credentials) error
	// Handle runs one request.
	Handle(req Request) (Response, error)
}

// Dispatcher authorizes control requests and routes them by opcode. It
// keeps no state between calls.
type Dispatcher struct {
	source EngineSource
	hooks  Switcher
	auth   Authorizer
	logger *logging.Logger
}

// NewDispatcher returns a Dispatcher reading the engine from source.
func NewDispatcher(source EngineSource, hooks Switcher, auth Authorizer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.WithComponent("ctlplane")
	}
	return &Dispatcher{
		source: source,
		hooks:  hooks,
		auth:   auth,
		logger: logger,
	}
}

// Authorize checks cred against the administration capability and
// audit-logs refusals.
func (d *Dispatcher) Authorize(cred Credentials) error {
	if err := d.auth.Authorize(cred); err != nil {
		metrics.Get().ControlDenied.Inc()
		d.logger.Audit("control.denied", "npf", map[string]any{
			"uid": cred.UID,
			"gid": cred.GID,
			"pid": cred.PID,
		})
		return ErrPermissionDenied
	}
	return nil
}

// Handle authorizes req and runs it. Unauthorized callers get
// ErrPermissionDenied before the opcode is looked at.
func (d *Dispatcher) Handle(req Request) (Response, error) {
	if err := d.Authorize(req.Cred); err != nil {
		return Response{}, err
	}
	resp, err := d.route(req)
	metrics.Get().RecordControl(req.Op.String(), err)
	if err != nil {
		d.logger.Debug("control request failed", "op", req.Op, "pid", req.Cred.PID, "error", err)
	}
	return resp, err
}

func (d *Dispatcher) route(req Request) (Response, error) {
	switch req.Op {
	case OpVersion:
		return Response{Payload: []byte(strconv.Itoa(Version))}, nil
	case OpSwitch:
		return Response{}, d.hooks.Switch(req.Payload)
	case OpTable:
		return d.withEngine(func(e engine.Engine) ([]byte, error) { return e.Table(req.Payload) })
	case OpRule:
		return d.withEngine(func(e engine.Engine) ([]byte, error) { return e.Rule(req.Payload) })
	case OpStats:
		return d.withEngine(engine.Engine.Stats)
	case OpSave:
		return d.withEngine(engine.Engine.Save)
	case OpLoad:
		return d.withEngine(func(e engine.Engine) ([]byte, error) { return nil, e.Load(req.Payload) })
	default:
		return Response{}, ErrUnsupportedOperation
	}
}

func (d *Dispatcher) withEngine(fn func(engine.Engine) ([]byte, error)) (Response, error) {
	e := d.source.Engine()
	if e == nil {
		return Response{}, ErrNoEngine
	}
	out, err := fn(e)
	return Response{Payload: out}, err
}
