// Package ifops is the only place where the filtering engine meets host
// network interfaces. The engine receives an [Ops] value at creation and
// never looks at netlink structures directly, which lets it run against
// [Static] in tests.
package ifops

import "fmt"

// Interface identifies a host network interface.
type Interface struct {
	Index int
	Name  string
}

func (i Interface) String() string {
	return fmt.Sprintf("%s#%d", i.Name, i.Index)
}

// Ops is the fixed set of interface capabilities handed to the engine.
type Ops interface {
	// Name returns the textual identifier of a live interface.
	Name(iface Interface) string

	// Lookup resolves a name to an interface. ok is false when no
	// interface with that name currently exists.
	Lookup(name string) (iface Interface, ok bool)

	// Flush overwrites the engine metadata of every known interface with
	// meta. It holds the interface set exclusively while iterating.
	Flush(meta any) error

	// Meta returns the engine annotation stored on iface, if any.
	Meta(iface Interface) (meta any, ok bool)

	// SetMeta stores meta on iface and returns the previous annotation.
	SetMeta(iface Interface, meta any) (prev any)
}
