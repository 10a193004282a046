package ctlplane

import (
	"github.com/stretchr/testify/mock"

	"grimm.is/npfd/internal/engine"
)

// MockControlClient is a mock implementation of ControlClient for testing.
type MockControlClient struct {
	mock.Mock
}

func (m *MockControlClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockControlClient) Ioctl(op Opcode, payload []byte) ([]byte, error) {
	args := m.Called(op, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockControlClient) Version() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockControlClient) Stats() (*engine.Stats, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.Stats), args.Error(1)
}

func (m *MockControlClient) Save() ([]byte, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockControlClient) Load(ruleset []byte) error {
	args := m.Called(ruleset)
	return args.Error(0)
}

func (m *MockControlClient) Switch(enable bool) error {
	args := m.Called(enable)
	return args.Error(0)
}

func (m *MockControlClient) Table(req engine.TableRequest) ([]byte, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockControlClient) Rule(req engine.RuleRequest) ([]byte, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockControlClient) Poll() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockControlClient) Read() error {
	args := m.Called()
	return args.Error(0)
}

var _ ControlClient = (*MockControlClient)(nil)
