package ifops

import (
	"sort"
	"sync"
)

// Static is an in-memory host with a fixed interface set. It records
// every metadata write so tests can observe Flush.
type Static struct {
	mu     sync.Mutex
	byName map[string]Interface
	slots  map[int]any

	// Sets receives one entry per metadata write, in order.
	Sets []SetCall
}

// SetCall is one recorded metadata write.
type SetCall struct {
	Iface Interface
	Prev  any
	Meta  any
}

// NewStatic returns a host exposing ifaces.
func NewStatic(ifaces ...Interface) *Static {
	s := &Static{
		byName: make(map[string]Interface, len(ifaces)),
		slots:  make(map[int]any),
	}
	for _, i := range ifaces {
		s.byName[i.Name] = i
	}
	return s
}

// Add makes iface visible to Lookup and Flush.
func (s *Static) Add(iface Interface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[iface.Name] = iface
}

// Remove drops iface and its slot.
func (s *Static) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iface, ok := s.byName[name]; ok {
		delete(s.slots, iface.Index)
		delete(s.byName, name)
	}
}

func (s *Static) Name(iface Interface) string { return iface.Name }

func (s *Static) Lookup(name string) (Interface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface, ok := s.byName[name]
	return iface, ok
}

func (s *Static) Flush(meta any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ifaces := make([]Interface, 0, len(s.byName))
	for _, i := range s.byName {
		ifaces = append(ifaces, i)
	}
	sort.Slice(ifaces, func(a, b int) bool { return ifaces[a].Index < ifaces[b].Index })
	for _, i := range ifaces {
		s.setLocked(i, meta)
	}
	return nil
}

func (s *Static) Meta(iface Interface) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.slots[iface.Index]
	return meta, ok
}

func (s *Static) SetMeta(iface Interface, meta any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(iface, meta)
}

func (s *Static) setLocked(iface Interface, meta any) any {
	prev := s.slots[iface.Index]
	if meta == nil {
		delete(s.slots, iface.Index)
	} else {
		s.slots[iface.Index] = meta
	}
	s.Sets = append(s.Sets, SetCall{Iface: iface, Prev: prev, Meta: meta})
	return prev
}

var _ Ops = (*Static)(nil)
