package ctlplane

import "grimm.is/npfd/internal/engine"

// ControlClient defines the interface for talking to the control device.
// This interface enables mocking in unit tests.
type ControlClient interface {
	Close() error

	Ioctl(op Opcode, payload []byte) ([]byte, error)
	Version() (int, error)
	Stats() (*engine.Stats, error)
	Save() ([]byte, error)
	Load(ruleset []byte) error
	Switch(enable bool) error
	Table(req engine.TableRequest) ([]byte, error)
	Rule(req engine.RuleRequest) ([]byte, error)
	Poll() error
	Read() error
}
