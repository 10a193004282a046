//go:build linux

package ifops

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

type MockNetlinker struct {
	mock.Mock
}

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}

func (m *MockNetlinker) LinkList() ([]netlink.Link, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]netlink.Link), args.Error(1)
}

func dummy(index int, name string) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: index, Name: name}}
}
