//go:build linux

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/ifops"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
	"grimm.is/npfd/internal/nft"
)

// FilterChain is the regular chain holding the ruleset. Base chains jump
// here to deliver packets to the engine.
const FilterChain = "filter"

const rulePrefix = "npf:"

// Config selects where the engine installs itself.
type Config struct {
	Table         string
	Family        nftables.TableFamily
	DefaultAction Action
}

// Binding is the annotation the engine stores on interfaces its rules
// refer to.
type Binding struct {
	ID   int
	Name string
}

// NFT is an Engine backed by nf_tables.
type NFT struct {
	conn   nft.Conn
	ops    ifops.Ops
	logger *logging.Logger

	table *nftables.Table
	chain *nftables.Chain

	mu    sync.RWMutex
	rs    Ruleset
	def   Action
	sets  map[string]*nftables.Set
	ifmap map[string]int
}

// NewNFTFactory returns a Factory that installs engines through conn.
func NewNFTFactory(conn nft.Conn, cfg Config, logger *logging.Logger) Factory {
	return func(ops ifops.Ops) (Engine, error) {
		return NewNFT(conn, cfg, ops, logger)
	}
}

// NewNFT creates the engine table and an empty ruleset carrying the
// configured default action. A stale table left by a previous run is
// replaced.
func NewNFT(conn nft.Conn, cfg Config, ops ifops.Ops, logger *logging.Logger) (*NFT, error) {
	if logger == nil {
		logger = logging.WithComponent("engine")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrInvalid)
	}
	if cfg.Family == nftables.TableFamilyUnspecified {
		cfg.Family = nftables.TableFamilyINet
	}

	e := &NFT{
		conn:   conn,
		ops:    ops,
		logger: logger,
		table:  &nftables.Table{Name: cfg.Table, Family: cfg.Family},
		def:    cfg.DefaultAction,
		sets:   make(map[string]*nftables.Set),
		ifmap:  make(map[string]int),
	}
	e.chain = &nftables.Chain{Name: FilterChain, Table: e.table}
	e.rs = Ruleset{DefaultAction: cfg.DefaultAction.String()}

	tables, err := conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == cfg.Table && t.Family == cfg.Family {
			logger.Warn("replacing stale engine table", "table", cfg.Table)
			conn.DelTable(t)
		}
	}

	conn.AddTable(e.table)
	conn.AddChain(e.chain)
	conn.AddRule(e.defaultRule(e.def))
	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to install engine table %s: %w", cfg.Table, err)
	}

	logger.Info("engine created", "table", cfg.Table, "default", e.def)
	return e, nil
}

// DefaultAction returns the verdict for unmatched packets.
func (e *NFT) DefaultAction() Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.def
}

// Table handles an OpTable payload.
func (e *NFT) Table(payload []byte) ([]byte, error) {
	var req TableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validName("table", req.Table); err != nil {
		return nil, err
	}

	if req.Op == "list" {
		e.mu.RLock()
		defer e.mu.RUnlock()
		t, ok := e.findTable(req.Table)
		if !ok {
			return nil, fmt.Errorf("%w: table %q", ErrNotFound, req.Table)
		}
		return json.Marshal(t)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch req.Op {
	case "create":
		return nil, e.createTable(req)
	case "destroy":
		return nil, e.destroyTable(req.Table)
	case "add", "remove", "flush":
		return nil, e.editTable(req)
	}
	return nil, fmt.Errorf("%w: unknown table op %q", ErrInvalid, req.Op)
}

func (e *NFT) createTable(req TableRequest) error {
	if _, ok := e.findTable(req.Table); ok {
		return fmt.Errorf("%w: table %q", ErrExists, req.Table)
	}
	t := Table{Name: req.Table, IPv6: req.IPv6}
	keys, canon, err := elementKeys(req.Elements, req.IPv6)
	if err != nil {
		return err
	}
	t.Elements = canon

	set := e.newSet(t)
	if err := e.conn.AddSet(set, keys); err != nil {
		return err
	}
	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("failed to create table %q: %w", req.Table, err)
	}
	e.sets[t.Name] = set
	e.rs.Tables = append(e.rs.Tables, t)
	return nil
}

func (e *NFT) destroyTable(name string) error {
	if _, ok := e.findTable(name); !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	for _, r := range e.rs.Rules {
		if r.SrcTable == name || r.DstTable == name {
			return fmt.Errorf("%w: table %q is used by rule %q", ErrBusy, name, r.Name)
		}
	}
	e.conn.DelSet(e.sets[name])
	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("failed to destroy table %q: %w", name, err)
	}
	delete(e.sets, name)
	e.rs.Tables = slices.DeleteFunc(e.rs.Tables, func(t Table) bool { return t.Name == name })
	return nil
}

func (e *NFT) editTable(req TableRequest) error {
	idx := slices.IndexFunc(e.rs.Tables, func(t Table) bool { return t.Name == req.Table })
	if idx < 0 {
		return fmt.Errorf("%w: table %q", ErrNotFound, req.Table)
	}
	t := e.rs.Tables[idx]
	set := e.sets[t.Name]

	if req.Op != "flush" && len(req.Elements) == 0 {
		return fmt.Errorf("%w: no elements given", ErrInvalid)
	}

	var elems []string
	switch req.Op {
	case "flush":
		e.conn.FlushSet(set)
	case "add":
		keys, canon, err := elementKeys(req.Elements, t.IPv6)
		if err != nil {
			return err
		}
		if err := e.conn.SetAddElements(set, keys); err != nil {
			return err
		}
		elems = slices.Clone(t.Elements)
		for _, c := range canon {
			if !slices.Contains(elems, c) {
				elems = append(elems, c)
			}
		}
	case "remove":
		keys, canon, err := elementKeys(req.Elements, t.IPv6)
		if err != nil {
			return err
		}
		for _, c := range canon {
			if !slices.Contains(t.Elements, c) {
				return fmt.Errorf("%w: %s not in table %q", ErrNotFound, c, t.Name)
			}
		}
		if err := e.conn.SetDeleteElements(set, keys); err != nil {
			return err
		}
		elems = slices.DeleteFunc(slices.Clone(t.Elements), func(s string) bool { return slices.Contains(canon, s) })
	}

	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("failed to update table %q: %w", t.Name, err)
	}
	e.rs.Tables[idx].Elements = elems
	return nil
}

// Rule handles an OpRule payload.
func (e *NFT) Rule(payload []byte) ([]byte, error) {
	var req RuleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if req.Op == "list" {
		e.mu.RLock()
		defer e.mu.RUnlock()
		rules := e.rs.Rules
		if rules == nil {
			rules = []Rule{}
		}
		return json.Marshal(rules)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rules := slices.Clone(e.rs.Rules)
	switch req.Op {
	case "add":
		tables := make(map[string]bool, len(e.rs.Tables))
		for _, t := range e.rs.Tables {
			tables[t.Name] = true
		}
		if err := req.Rule.validate(tables); err != nil {
			return nil, err
		}
		if slices.ContainsFunc(rules, func(r Rule) bool { return r.Name == req.Rule.Name }) {
			return nil, fmt.Errorf("%w: rule %q", ErrExists, req.Rule.Name)
		}
		rules = append(rules, req.Rule)
	case "remove":
		n := len(rules)
		rules = slices.DeleteFunc(rules, func(r Rule) bool { return r.Name == req.Rule.Name })
		if len(rules) == n {
			return nil, fmt.Errorf("%w: rule %q", ErrNotFound, req.Rule.Name)
		}
	default:
		return nil, fmt.Errorf("%w: unknown rule op %q", ErrInvalid, req.Op)
	}

	built, err := e.buildRules(rules, e.sets, e.def)
	if err != nil {
		return nil, err
	}
	e.conn.FlushChain(e.chain)
	for _, r := range built {
		e.conn.AddRule(r)
	}
	if err := e.conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to update rules: %w", err)
	}
	e.rs.Rules = rules
	e.bindInterfaces(rules)
	return nil, nil
}

// Stats reads rule counters from the kernel.
func (e *NFT) Stats() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules, err := e.readCounters()
	if err != nil {
		return nil, err
	}
	st := Stats{
		DefaultAction: e.def.String(),
		Tables:        len(e.rs.Tables),
		Rules:         rules,
	}
	for _, r := range rules {
		st.Packets += r.Packets
		st.Bytes += r.Bytes
	}
	return json.Marshal(st)
}

// Samples adapts the rule counters for the metrics collector.
func (e *NFT) Samples() ([]metrics.RuleSample, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules, err := e.readCounters()
	if err != nil {
		return nil, err
	}
	out := make([]metrics.RuleSample, 0, len(rules))
	for _, r := range rules {
		out = append(out, metrics.RuleSample{Rule: r.Name, Action: r.Action, Packets: r.Packets, Bytes: r.Bytes})
	}
	return out, nil
}

func (e *NFT) readCounters() ([]RuleStats, error) {
	rules, err := e.conn.GetRules(e.table, e.chain)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	out := make([]RuleStats, 0, len(rules))
	for _, r := range rules {
		name, ok := strings.CutPrefix(string(r.UserData), rulePrefix)
		if !ok {
			continue
		}
		rs := RuleStats{Name: name}
		for _, ex := range r.Exprs {
			switch v := ex.(type) {
			case *expr.Counter:
				rs.Packets = v.Packets
				rs.Bytes = v.Bytes
			case *expr.Verdict:
				if v.Kind == expr.VerdictDrop {
					rs.Action = ActionBlock.String()
				} else {
					rs.Action = ActionPass.String()
				}
			}
		}
		out = append(out, rs)
	}
	return out, nil
}

// Save returns the active ruleset.
func (e *NFT) Save() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.Marshal(e.rs)
}

// Load replaces the ruleset in one netfilter transaction.
func (e *NFT) Load(payload []byte) error {
	err := e.load(payload)
	metrics.Get().RecordLoad(err)
	return err
}

func (e *NFT) load(payload []byte) error {
	var rs Ruleset
	if err := json.Unmarshal(payload, &rs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := rs.Validate(); err != nil {
		return err
	}
	def, _ := ParseAction(rs.DefaultAction)
	rs.DefaultAction = def.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	sets := make(map[string]*nftables.Set, len(rs.Tables))
	for i, t := range rs.Tables {
		sets[t.Name] = e.newSet(t)
		_, canon, _ := elementKeys(t.Elements, t.IPv6)
		rs.Tables[i].Elements = canon
	}
	// Render once up front so nothing is queued for a ruleset that cannot
	// be expressed. Lookups need the set IDs assigned by AddSet, so the
	// rules are rendered again after the sets are queued.
	if _, err := e.buildRules(rs.Rules, sets, def); err != nil {
		return err
	}

	// The chain is flushed first so the old sets are unreferenced when
	// they are deleted in the same transaction.
	e.conn.FlushChain(e.chain)
	for _, old := range e.sets {
		e.conn.DelSet(old)
	}
	for _, t := range rs.Tables {
		keys, _, _ := elementKeys(t.Elements, t.IPv6)
		if err := e.conn.AddSet(sets[t.Name], keys); err != nil {
			return err
		}
	}
	built, err := e.buildRules(rs.Rules, sets, def)
	if err != nil {
		return err
	}
	for _, r := range built {
		e.conn.AddRule(r)
	}
	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("failed to load ruleset: %w", err)
	}

	e.rs = rs
	e.def = def
	e.sets = sets
	e.bindInterfaces(rs.Rules)
	e.logger.Info("ruleset loaded", "tables", len(rs.Tables), "rules", len(rs.Rules), "default", def)
	return nil
}

// Destroy removes the engine table and clears interface annotations.
func (e *NFT) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ops.Flush(nil); err != nil {
		e.logger.Warn("failed to clear interface bindings", "error", err)
	}
	e.ifmap = make(map[string]int)

	e.conn.DelTable(e.table)
	if err := e.conn.Flush(); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("failed to remove engine table %s: %w", e.table.Name, err)
	}
	e.logger.Info("engine destroyed", "table", e.table.Name)
	return nil
}

// Attach binds a newly arrived interface if a rule refers to it.
func (e *NFT) Attach(iface ifops.Interface) {
	e.mu.RLock()
	id, ok := e.ifmap[iface.Name]
	e.mu.RUnlock()
	if !ok {
		return
	}
	if prev := e.ops.SetMeta(iface, &Binding{ID: id, Name: iface.Name}); prev != nil {
		e.logger.Debug("interface rebound", "iface", iface)
	}
}

// Detach drops the binding of a departing interface.
func (e *NFT) Detach(iface ifops.Interface) {
	e.ops.SetMeta(iface, nil)
}

func (e *NFT) findTable(name string) (Table, bool) {
	for _, t := range e.rs.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// bindInterfaces resets every interface annotation, then annotates the
// live interfaces referenced by rules. Missing interfaces are bound when
// they arrive.
func (e *NFT) bindInterfaces(rules []Rule) {
	if err := e.ops.Flush(nil); err != nil {
		e.logger.Warn("failed to reset interface bindings", "error", err)
	}
	ifmap := make(map[string]int)
	for _, r := range rules {
		if r.Interface == "" {
			continue
		}
		if _, ok := ifmap[r.Interface]; ok {
			continue
		}
		id := len(ifmap) + 1
		ifmap[r.Interface] = id
		if iface, ok := e.ops.Lookup(r.Interface); ok {
			e.ops.SetMeta(iface, &Binding{ID: id, Name: e.ops.Name(iface)})
		}
	}
	e.ifmap = ifmap
}

func (e *NFT) newSet(t Table) *nftables.Set {
	keyType := nftables.TypeIPAddr
	if t.IPv6 {
		keyType = nftables.TypeIP6Addr
	}
	return &nftables.Set{Table: e.table, Name: t.Name, KeyType: keyType}
}

// buildRules renders rules plus the trailing default verdict without
// touching the connection, so a bad rule never leaves a partial batch.
func (e *NFT) buildRules(rules []Rule, sets map[string]*nftables.Set, def Action) ([]*nftables.Rule, error) {
	out := make([]*nftables.Rule, 0, len(rules)+1)
	for _, r := range rules {
		exprs, err := ruleExprs(r, sets)
		if err != nil {
			return nil, err
		}
		out = append(out, &nftables.Rule{
			Table:    e.table,
			Chain:    e.chain,
			Exprs:    exprs,
			UserData: []byte(rulePrefix + r.Name),
		})
	}
	return append(out, e.defaultRule(def)), nil
}

func (e *NFT) defaultRule(def Action) *nftables.Rule {
	return &nftables.Rule{
		Table:    e.table,
		Chain:    e.chain,
		Exprs:    []expr.Any{&expr.Counter{}, verdict(def)},
		UserData: []byte(rulePrefix + defaultRuleName),
	}
}

var _ Engine = (*NFT)(nil)
