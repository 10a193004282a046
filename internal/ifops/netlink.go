//go:build linux

package ifops

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"

	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
)

// Netlinker is the slice of netlink the adapter needs.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
}

type realNetlinker struct{}

func (realNetlinker) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (realNetlinker) LinkList() ([]netlink.Link, error)            { return netlink.LinkList() }

// Netlink implements Ops against the host's rtnetlink view of interfaces.
// Linux links carry no engine slot, so the adapter keeps one per ifindex.
type Netlink struct {
	nl     Netlinker
	logger *logging.Logger

	mu    sync.Mutex
	slots map[int]any
}

// NewNetlink returns an adapter backed by the running kernel.
func NewNetlink(logger *logging.Logger) *Netlink {
	return NewNetlinkWith(realNetlinker{}, logger)
}

// NewNetlinkWith returns an adapter using nl for link queries.
func NewNetlinkWith(nl Netlinker, logger *logging.Logger) *Netlink {
	if logger == nil {
		logger = logging.WithComponent("ifops")
	}
	return &Netlink{
		nl:     nl,
		logger: logger,
		slots:  make(map[int]any),
	}
}

// Name returns the interface name.
func (n *Netlink) Name(iface Interface) string {
	return iface.Name
}

// Lookup resolves name through netlink.
func (n *Netlink) Lookup(name string) (Interface, bool) {
	link, err := n.nl.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if !errors.As(err, &notFound) {
			n.logger.Debug("link lookup failed", "name", name, "error", err)
		}
		return Interface{}, false
	}
	attrs := link.Attrs()
	return Interface{Index: attrs.Index, Name: attrs.Name}, true
}

// Flush stores meta on every link the host currently reports.
func (n *Netlink) Flush(meta any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	links, err := n.nl.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}
	for _, link := range links {
		attrs := link.Attrs()
		n.setLocked(Interface{Index: attrs.Index, Name: attrs.Name}, meta)
	}
	return nil
}

// Meta returns the annotation stored for iface.
func (n *Netlink) Meta(iface Interface) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	meta, ok := n.slots[iface.Index]
	return meta, ok
}

// SetMeta stores meta for iface and returns the previous value.
func (n *Netlink) SetMeta(iface Interface, meta any) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setLocked(iface, meta)
}

// Forget drops the slot of a departed interface.
func (n *Netlink) Forget(index int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.slots, index)
}

func (n *Netlink) setLocked(iface Interface, meta any) any {
	prev := n.slots[iface.Index]
	if meta == nil {
		delete(n.slots, iface.Index)
	} else {
		n.slots[iface.Index] = meta
	}
	metrics.Get().IfMetaSets.Inc()
	return prev
}

var _ Ops = (*Netlink)(nil)
