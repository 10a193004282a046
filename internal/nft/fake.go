//go:build linux

package nft

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// Fake is an in-memory Conn. Queued operations are applied to a copy of
// the committed state on Flush; if any of them fails the batch is dropped
// and the committed state is left untouched, like the kernel does.
type Fake struct {
	mu        sync.Mutex
	state     *fakeState
	pending   []func(*fakeState) error
	nextSetID uint32
	flushes   int
	failNext  error
}

type fakeSet struct {
	set   *nftables.Set
	elems [][]byte
}

type fakeState struct {
	tables     map[string]*nftables.Table
	chains     map[string]*nftables.Chain
	rules      map[string][]*nftables.Rule
	sets       map[string]*fakeSet
	nextHandle uint64
}

// NewFake returns an empty ruleset.
func NewFake() *Fake {
	return &Fake{state: &fakeState{
		tables: make(map[string]*nftables.Table),
		chains: make(map[string]*nftables.Chain),
		rules:  make(map[string][]*nftables.Rule),
		sets:   make(map[string]*fakeSet),
	}}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		tables:     make(map[string]*nftables.Table, len(s.tables)),
		chains:     make(map[string]*nftables.Chain, len(s.chains)),
		rules:      make(map[string][]*nftables.Rule, len(s.rules)),
		sets:       make(map[string]*fakeSet, len(s.sets)),
		nextHandle: s.nextHandle,
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.chains {
		c.chains[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = append([]*nftables.Rule(nil), v...)
	}
	for k, v := range s.sets {
		c.sets[k] = &fakeSet{set: v.set, elems: append([][]byte(nil), v.elems...)}
	}
	return c
}

func chainKey(table, chain string) string { return table + "/" + chain }

func notFound(kind, name string) error {
	return fmt.Errorf("%s %s: %w", kind, name, unix.ENOENT)
}

func (f *Fake) queue(op func(*fakeState) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, op)
}

func (f *Fake) AddTable(t *nftables.Table) *nftables.Table {
	f.queue(func(s *fakeState) error {
		if _, ok := s.tables[t.Name]; !ok {
			s.tables[t.Name] = t
		}
		return nil
	})
	return t
}

func (f *Fake) DelTable(t *nftables.Table) {
	f.queue(func(s *fakeState) error {
		if _, ok := s.tables[t.Name]; !ok {
			return notFound("table", t.Name)
		}
		delete(s.tables, t.Name)
		prefix := t.Name + "/"
		for k := range s.chains {
			if strings.HasPrefix(k, prefix) {
				delete(s.chains, k)
				delete(s.rules, k)
			}
		}
		for k := range s.sets {
			if strings.HasPrefix(k, prefix) {
				delete(s.sets, k)
			}
		}
		return nil
	})
}

func (f *Fake) ListTables() ([]*nftables.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*nftables.Table, 0, len(f.state.tables))
	for _, t := range f.state.tables {
		out = append(out, t)
	}
	return out, nil
}

func (f *Fake) AddChain(c *nftables.Chain) *nftables.Chain {
	f.queue(func(s *fakeState) error {
		if _, ok := s.tables[c.Table.Name]; !ok {
			return notFound("table", c.Table.Name)
		}
		s.chains[chainKey(c.Table.Name, c.Name)] = c
		return nil
	})
	return c
}

func (f *Fake) DelChain(c *nftables.Chain) {
	f.queue(func(s *fakeState) error {
		key := chainKey(c.Table.Name, c.Name)
		if _, ok := s.chains[key]; !ok {
			return notFound("chain", key)
		}
		if len(s.rules[key]) > 0 {
			return fmt.Errorf("chain %s: %w", key, unix.EBUSY)
		}
		delete(s.chains, key)
		delete(s.rules, key)
		return nil
	})
}

func (f *Fake) FlushChain(c *nftables.Chain) {
	f.queue(func(s *fakeState) error {
		key := chainKey(c.Table.Name, c.Name)
		if _, ok := s.chains[key]; !ok {
			return notFound("chain", key)
		}
		delete(s.rules, key)
		return nil
	})
}

func (f *Fake) AddRule(r *nftables.Rule) *nftables.Rule {
	f.queue(func(s *fakeState) error {
		key := chainKey(r.Table.Name, r.Chain.Name)
		if _, ok := s.chains[key]; !ok {
			return notFound("chain", key)
		}
		s.nextHandle++
		r.Handle = s.nextHandle
		s.rules[key] = append(s.rules[key], r)
		return nil
	})
	return r
}

func (f *Fake) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chainKey(t.Name, c.Name)
	if _, ok := f.state.chains[key]; !ok {
		return nil, notFound("chain", key)
	}
	return append([]*nftables.Rule(nil), f.state.rules[key]...), nil
}

func (f *Fake) AddSet(set *nftables.Set, vals []nftables.SetElement) error {
	f.mu.Lock()
	if set.ID == 0 {
		f.nextSetID++
		set.ID = f.nextSetID
	}
	f.mu.Unlock()

	f.queue(func(s *fakeState) error {
		if _, ok := s.tables[set.Table.Name]; !ok {
			return notFound("table", set.Table.Name)
		}
		fs := &fakeSet{set: set}
		for _, v := range vals {
			fs.elems = append(fs.elems, v.Key)
		}
		s.sets[chainKey(set.Table.Name, set.Name)] = fs
		return nil
	})
	return nil
}

func (f *Fake) DelSet(set *nftables.Set) {
	f.queue(func(s *fakeState) error {
		key := chainKey(set.Table.Name, set.Name)
		if _, ok := s.sets[key]; !ok {
			return notFound("set", key)
		}
		delete(s.sets, key)
		return nil
	})
}

func (f *Fake) SetAddElements(set *nftables.Set, vals []nftables.SetElement) error {
	f.queue(func(s *fakeState) error {
		fs, ok := s.sets[chainKey(set.Table.Name, set.Name)]
		if !ok {
			return notFound("set", set.Name)
		}
		for _, v := range vals {
			if indexOf(fs.elems, v.Key) < 0 {
				fs.elems = append(fs.elems, v.Key)
			}
		}
		return nil
	})
	return nil
}

func (f *Fake) SetDeleteElements(set *nftables.Set, vals []nftables.SetElement) error {
	f.queue(func(s *fakeState) error {
		fs, ok := s.sets[chainKey(set.Table.Name, set.Name)]
		if !ok {
			return notFound("set", set.Name)
		}
		for _, v := range vals {
			i := indexOf(fs.elems, v.Key)
			if i < 0 {
				return notFound("element", fmt.Sprintf("%x", v.Key))
			}
			fs.elems = append(fs.elems[:i:i], fs.elems[i+1:]...)
		}
		return nil
	})
	return nil
}

func (f *Fake) FlushSet(set *nftables.Set) {
	f.queue(func(s *fakeState) error {
		fs, ok := s.sets[chainKey(set.Table.Name, set.Name)]
		if !ok {
			return notFound("set", set.Name)
		}
		fs.elems = nil
		return nil
	})
}

// Flush commits the queued batch.
func (f *Fake) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.pending
	f.pending = nil
	f.flushes++

	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}

	next := f.state.clone()
	for _, op := range pending {
		if err := op(next); err != nil {
			return err
		}
	}
	f.state = next
	return nil
}

// FailNextFlush makes the next Flush drop its batch and return err.
func (f *Fake) FailNextFlush(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// Flushes reports how many batches have been submitted.
func (f *Fake) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// HasTable reports whether a table is committed.
func (f *Fake) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state.tables[name]
	return ok
}

// Chain returns a committed chain.
func (f *Fake) Chain(table, name string) (*nftables.Chain, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.state.chains[chainKey(table, name)]
	return c, ok
}

// Rules returns the committed rules of a chain.
func (f *Fake) Rules(table, chain string) []*nftables.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nftables.Rule(nil), f.state.rules[chainKey(table, chain)]...)
}

// SetElements returns the committed element keys of a set.
func (f *Fake) SetElements(table, set string) ([][]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.state.sets[chainKey(table, set)]
	if !ok {
		return nil, false
	}
	return append([][]byte(nil), fs.elems...), true
}

// SetCounter overwrites the counter of every committed rule whose user
// data equals tag.
func (f *Fake) SetCounter(table, chain string, tag []byte, packets, nbytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.state.rules[chainKey(table, chain)] {
		if !bytes.Equal(r.UserData, tag) {
			continue
		}
		for _, e := range r.Exprs {
			if c, ok := e.(*expr.Counter); ok {
				c.Packets = packets
				c.Bytes = nbytes
			}
		}
	}
}

func indexOf(list [][]byte, key []byte) int {
	for i, k := range list {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}

var _ Conn = (*Fake)(nil)
