package engine

import (
	"fmt"
	"net/netip"
	"regexp"
)

// Ruleset is the document exchanged by Save and Load.
type Ruleset struct {
	DefaultAction string  `json:"default_action"`
	Tables        []Table `json:"tables,omitempty"`
	Rules         []Rule  `json:"rules,omitempty"`
}

// Table is a named set of host addresses.
type Table struct {
	Name     string   `json:"name"`
	IPv6     bool     `json:"ipv6,omitempty"`
	Elements []string `json:"elements,omitempty"`
}

// Rule matches on inbound interface and source/destination table
// membership. Empty fields match anything.
type Rule struct {
	Name      string `json:"name"`
	Action    string `json:"action"`
	Interface string `json:"interface,omitempty"`
	SrcTable  string `json:"src_table,omitempty"`
	DstTable  string `json:"dst_table,omitempty"`
}

// TableRequest is the OpTable payload.
type TableRequest struct {
	// Op is one of create, destroy, add, remove, flush, list.
	Op       string   `json:"op"`
	Table    string   `json:"table"`
	IPv6     bool     `json:"ipv6,omitempty"`
	Elements []string `json:"elements,omitempty"`
}

// RuleRequest is the OpRule payload.
type RuleRequest struct {
	// Op is one of add, remove, list.
	Op   string `json:"op"`
	Rule Rule   `json:"rule"`
}

// Stats is the OpStats reply.
type Stats struct {
	DefaultAction string      `json:"default_action"`
	Tables        int         `json:"tables"`
	Rules         []RuleStats `json:"rules"`
	Packets       uint64      `json:"packets"`
	Bytes         uint64      `json:"bytes"`
}

// RuleStats holds one rule's counters. The default verdict is reported
// under the name "default".
type RuleStats struct {
	Name    string `json:"name"`
	Action  string `json:"action"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

const maxNameLen = 32

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

func validName(kind, name string) error {
	if name == "" || len(name) > maxNameLen || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: bad %s name %q", ErrInvalid, kind, name)
	}
	return nil
}

func parseAddr(s string, ipv6 bool) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is6() != ipv6 {
		return netip.Addr{}, fmt.Errorf("%w: address %s does not match table family", ErrInvalid, s)
	}
	return addr, nil
}

// Validate checks names, actions, addresses and cross references.
func (rs *Ruleset) Validate() error {
	if _, err := ParseAction(rs.DefaultAction); err != nil {
		return err
	}
	tables := make(map[string]bool, len(rs.Tables))
	for _, t := range rs.Tables {
		if err := validName("table", t.Name); err != nil {
			return err
		}
		if tables[t.Name] {
			return fmt.Errorf("%w: table %q defined twice", ErrInvalid, t.Name)
		}
		tables[t.Name] = true
		for _, e := range t.Elements {
			if _, err := parseAddr(e, t.IPv6); err != nil {
				return fmt.Errorf("table %q: %w", t.Name, err)
			}
		}
	}
	rules := make(map[string]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if err := r.validate(tables); err != nil {
			return err
		}
		if rules[r.Name] {
			return fmt.Errorf("%w: rule %q defined twice", ErrInvalid, r.Name)
		}
		rules[r.Name] = true
	}
	return nil
}

func (r *Rule) validate(tables map[string]bool) error {
	if err := validName("rule", r.Name); err != nil {
		return err
	}
	if r.Name == defaultRuleName {
		return fmt.Errorf("%w: rule name %q is reserved", ErrInvalid, r.Name)
	}
	if _, err := ParseAction(r.Action); err != nil {
		return err
	}
	if len(r.Interface) >= ifNameSize {
		return fmt.Errorf("%w: interface name %q too long", ErrInvalid, r.Interface)
	}
	for _, t := range []string{r.SrcTable, r.DstTable} {
		if t != "" && !tables[t] {
			return fmt.Errorf("%w: rule %q references table %q", ErrNotFound, r.Name, t)
		}
	}
	return nil
}

const (
	defaultRuleName = "default"
	ifNameSize      = 16
)
