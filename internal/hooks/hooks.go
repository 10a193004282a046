//go:build linux

// Package hooks attaches the engine to the packet path. Each configured
// netfilter hook gets a base chain in the engine's table whose only rule
// jumps to the engine filter chain. Removing the base chains detaches the
// engine without touching its ruleset.
package hooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/vishvananda/netlink"

	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/ifops"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
	"grimm.is/npfd/internal/nft"
)

// Config describes which hooks to attach and where.
type Config struct {
	Table    string
	Family   nftables.TableFamily
	Chains   []string
	Priority int
	// WatchLinks starts the interface watcher on init registration.
	WatchLinks bool
}

// LinkTarget receives interface arrivals and departures.
type LinkTarget interface {
	Attach(iface ifops.Interface)
	Detach(iface ifops.Interface)
}

// Subscriber delivers link updates until done is closed. It matches
// netlink.LinkSubscribe.
type Subscriber func(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the component logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Layer) {
		l.logger = logger
	}
}

// WithSubscriber replaces netlink.LinkSubscribe.
func WithSubscriber(s Subscriber) Option {
	return func(l *Layer) {
		l.subscribe = s
	}
}

// WithLinkTarget sets the lookup for the current link target. It is
// consulted per update since the engine changes across activations.
func WithLinkTarget(target func() LinkTarget) Option {
	return func(l *Layer) {
		l.target = target
	}
}

// WithForget sets the callback run for every departed interface index.
func WithForget(forget func(index int)) Option {
	return func(l *Layer) {
		l.forget = forget
	}
}

// Layer owns the base chains and the link watcher.
type Layer struct {
	conn      nft.Conn
	cfg       Config
	logger    *logging.Logger
	subscribe Subscriber
	target    func() LinkTarget
	forget    func(index int)

	table  *nftables.Table
	chains []*nftables.Chain

	mu         sync.Mutex
	registered bool
	watchDone  chan struct{}
	watchWG    sync.WaitGroup
}

// New validates cfg and returns an unregistered Layer.
func New(conn nft.Conn, cfg Config, opts ...Option) (*Layer, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrInvalid)
	}
	if cfg.Family == nftables.TableFamilyUnspecified {
		cfg.Family = nftables.TableFamilyINet
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = []string{"input", "forward", "output"}
	}

	l := &Layer{
		conn:      conn,
		cfg:       cfg,
		subscribe: netlink.LinkSubscribe,
		table:     &nftables.Table{Name: cfg.Table, Family: cfg.Family},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.WithComponent("hooks")
	}

	prio := nftables.ChainPriority(cfg.Priority)
	for _, name := range cfg.Chains {
		hook, err := ParseHook(name)
		if err != nil {
			return nil, err
		}
		l.chains = append(l.chains, &nftables.Chain{
			Name:     "hook_" + strings.ToLower(name),
			Table:    l.table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  hook,
			Priority: nftables.ChainPriorityRef(prio),
		})
	}
	return l, nil
}

// ParseHook maps a netfilter hook name onto its hook number.
func ParseHook(name string) (*nftables.ChainHook, error) {
	switch strings.ToLower(name) {
	case "prerouting":
		return nftables.ChainHookPrerouting, nil
	case "input":
		return nftables.ChainHookInput, nil
	case "forward":
		return nftables.ChainHookForward, nil
	case "output":
		return nftables.ChainHookOutput, nil
	case "postrouting":
		return nftables.ChainHookPostrouting, nil
	}
	return nil, fmt.Errorf("%w: unknown hook %q", ErrInvalid, name)
}

// Register attaches the base chains. With init set it also starts the
// link watcher. Registering twice is a no-op.
func (l *Layer) Register(init bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.registered {
		for _, c := range l.chains {
			l.conn.AddChain(c)
			l.conn.AddRule(&nftables.Rule{
				Table: l.table,
				Chain: c,
				Exprs: []expr.Any{
					&expr.Verdict{Kind: expr.VerdictJump, Chain: engine.FilterChain},
				},
			})
		}
		if err := l.conn.Flush(); err != nil {
			return fmt.Errorf("failed to attach hooks: %w", err)
		}
		l.registered = true
		metrics.SetBool(metrics.Get().HooksRegistered, true)
		l.logger.Info("packet hooks attached", "table", l.cfg.Table, "chains", len(l.chains))
	}

	if init && l.cfg.WatchLinks && l.watchDone == nil {
		if err := l.startWatchLocked(); err != nil {
			if derr := l.detachLocked(); derr != nil {
				l.logger.Error("failed to roll back hooks", "error", derr)
			}
			return err
		}
	}
	return nil
}

// Unregister detaches the base chains. With init set it also stops the
// link watcher. Unregistering twice is a no-op.
func (l *Layer) Unregister(init bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if init {
		l.stopWatchLocked()
	}
	if !l.registered {
		return nil
	}
	return l.detachLocked()
}

func (l *Layer) detachLocked() error {
	for _, c := range l.chains {
		l.conn.FlushChain(c)
		l.conn.DelChain(c)
	}
	if err := l.conn.Flush(); err != nil {
		return fmt.Errorf("failed to detach hooks: %w", err)
	}
	l.registered = false
	metrics.SetBool(metrics.Get().HooksRegistered, false)
	l.logger.Info("packet hooks detached", "table", l.cfg.Table)
	return nil
}

// Registered reports whether the packet hooks are attached.
func (l *Layer) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered
}

// Switch handles an OpSwitch payload. It toggles only the packet hooks;
// the link watcher keeps running.
func (l *Layer) Switch(payload []byte) error {
	var req SwitchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if req.Enable {
		return l.Register(false)
	}
	return l.Unregister(false)
}
