// Package engine defines the packet filtering engine driven by the
// control plane, and provides an nf_tables backed implementation.
//
// The engine owns one nftables table holding a regular filter chain and
// one named set per address table. It knows nothing about how packets
// reach that chain; the hooks package attaches base chains that jump into
// it.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"grimm.is/npfd/internal/ifops"
)

// Action is a rule verdict and the engine's default verdict.
type Action int

const (
	ActionPass Action = iota
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionBlock:
		return "block"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction parses "pass" or "block".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pass", "accept":
		return ActionPass, nil
	case "block", "drop":
		return ActionBlock, nil
	}
	return ActionPass, fmt.Errorf("%w: unknown action %q", ErrInvalid, s)
}

var (
	// ErrInvalid reports a malformed request payload.
	ErrInvalid = errors.New("invalid request")
	// ErrNotFound reports a missing table or rule.
	ErrNotFound = errors.New("not found")
	// ErrExists reports a name collision.
	ErrExists = errors.New("already exists")
	// ErrBusy reports a table still referenced by a rule.
	ErrBusy = errors.New("resource busy")
)

// Engine is one running instance of the filtering engine.
type Engine interface {
	// Table edits or lists a named address table.
	Table(payload []byte) ([]byte, error)
	// Rule adds, removes or lists rules.
	Rule(payload []byte) ([]byte, error)
	// Stats returns aggregate counters.
	Stats() ([]byte, error)
	// Save returns a snapshot of the active ruleset that Load accepts.
	Save() ([]byte, error)
	// Load atomically replaces the whole ruleset.
	Load(payload []byte) error
	// DefaultAction is the verdict for packets no rule matched.
	DefaultAction() Action
	// Destroy removes everything the engine installed.
	Destroy() error
}

// Factory creates an engine bound to the given interface operations.
type Factory func(ops ifops.Ops) (Engine, error)
