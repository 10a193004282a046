//go:build linux

// Package nft abstracts the netfilter batch API so the engine and the hook
// layer can be driven against an in-memory [Fake] in tests.
package nft

import (
	"github.com/google/nftables"
)

// Conn is the subset of *nftables.Conn used by npfd. Mutations are queued
// and only take effect, atomically, on Flush.
type Conn interface {
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)
	ListTables() ([]*nftables.Table, error)

	AddChain(c *nftables.Chain) *nftables.Chain
	DelChain(c *nftables.Chain)
	FlushChain(c *nftables.Chain)

	AddRule(r *nftables.Rule) *nftables.Rule
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)

	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	DelSet(s *nftables.Set)
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error
	FlushSet(s *nftables.Set)

	Flush() error
}

// Real wraps an *nftables.Conn.
type Real struct {
	conn *nftables.Conn
}

// New opens a netlink connection to nf_tables.
func New() (*Real, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, err
	}
	return &Real{conn: conn}, nil
}

func (r *Real) AddTable(t *nftables.Table) *nftables.Table { return r.conn.AddTable(t) }
func (r *Real) DelTable(t *nftables.Table)                   { r.conn.DelTable(t) }
func (r *Real) ListTables() ([]*nftables.Table, error)       { return r.conn.ListTables() }

func (r *Real) AddChain(c *nftables.Chain) *nftables.Chain { return r.conn.AddChain(c) }
func (r *Real) DelChain(c *nftables.Chain)                   { r.conn.DelChain(c) }
func (r *Real) FlushChain(c *nftables.Chain)                 { r.conn.FlushChain(c) }

func (r *Real) AddRule(rule *nftables.Rule) *nftables.Rule { return r.conn.AddRule(rule) }
func (r *Real) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	return r.conn.GetRules(t, c)
}

func (r *Real) AddSet(s *nftables.Set, vals []nftables.SetElement) error { return r.conn.AddSet(s, vals) }
func (r *Real) DelSet(s *nftables.Set)                                    { r.conn.DelSet(s) }
func (r *Real) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetAddElements(s, vals)
}
func (r *Real) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	return r.conn.SetDeleteElements(s, vals)
}
func (r *Real) FlushSet(s *nftables.Set) { r.conn.FlushSet(s) }

func (r *Real) Flush() error { return r.conn.Flush() }

var _ Conn = (*Real)(nil)
