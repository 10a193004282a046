package config

import (
	"os"
	"strconv"

	"grimm.is/npfd/internal/brand"
)

// Config is the top-level structure for the daemon configuration.
type Config struct {
	LogLevel string `hcl:"log_level,optional" json:"log_level"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json"`
	// DefaultAction is the engine verdict before any ruleset is loaded.
	DefaultAction string `hcl:"default_action,optional" json:"default_action"`

	Control *ControlConfig `hcl:"control,block" json:"control"`
	Engine  *EngineConfig  `hcl:"engine,block" json:"engine"`
	Hooks   *HooksConfig   `hcl:"hooks,block" json:"hooks"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics"`
}

// ControlConfig configures the control device.
type ControlConfig struct {
	Socket string `hcl:"socket,optional" json:"socket"`
	// Mode is the octal permission of the socket file.
	Mode      string `hcl:"mode,optional" json:"mode"`
	AdminUIDs []int  `hcl:"admin_uids,optional" json:"admin_uids"`
	AdminGID  *int   `hcl:"admin_gid,optional" json:"admin_gid,omitempty"`
}

// EngineConfig selects the nftables table the engine owns.
type EngineConfig struct {
	Table  string `hcl:"table,optional" json:"table"`
	Family string `hcl:"family,optional" json:"family"`
}

// HooksConfig selects the netfilter hooks the engine is attached to.
type HooksConfig struct {
	Chains     []string `hcl:"chains,optional" json:"chains"`
	Priority   int      `hcl:"priority,optional" json:"priority"`
	WatchLinks *bool    `hcl:"watch_links,optional" json:"watch_links"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional" json:"listen"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DefaultAction == "" {
		c.DefaultAction = "pass"
	}

	if c.Control == nil {
		c.Control = &ControlConfig{}
	}
	if c.Control.Socket == "" {
		c.Control.Socket = brand.GetSocketPath()
	}
	if c.Control.Mode == "" {
		c.Control.Mode = "0600"
	}
	if c.Control.AdminUIDs == nil {
		c.Control.AdminUIDs = []int{0}
	}

	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if c.Engine.Table == "" {
		c.Engine.Table = "npf"
	}
	if c.Engine.Family == "" {
		c.Engine.Family = "inet"
	}

	if c.Hooks == nil {
		c.Hooks = &HooksConfig{}
	}
	if len(c.Hooks.Chains) == 0 {
		c.Hooks.Chains = []string{"input", "forward", "output"}
	}
	if c.Hooks.WatchLinks == nil {
		watch := true
		c.Hooks.WatchLinks = &watch
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{Listen: "127.0.0.1:9180"}
	}
}

// SocketMode returns the parsed socket permission.
func (c *ControlConfig) SocketMode() os.FileMode {
	mode, err := strconv.ParseUint(c.Mode, 8, 32)
	if err != nil {
		return 0o600
	}
	return os.FileMode(mode)
}

// UIDs returns AdminUIDs as kernel uids.
func (c *ControlConfig) UIDs() []uint32 {
	out := make([]uint32, 0, len(c.AdminUIDs))
	for _, uid := range c.AdminUIDs {
		out = append(out, uint32(uid))
	}
	return out
}

// GID returns the admin group, or nil.
func (c *ControlConfig) GID() *uint32 {
	if c.AdminGID == nil {
		return nil
	}
	gid := uint32(*c.AdminGID)
	return &gid
}
