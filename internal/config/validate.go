package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,31}$`)
	knownHooks       = []string{"prerouting", "input", "forward", "output", "postrouting"}
)

// Validate checks a configuration with defaults applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log_level", "unknown level %q", c.LogLevel)
	}

	switch strings.ToLower(c.DefaultAction) {
	case "pass", "accept", "block", "drop":
	default:
		add("default_action", "must be pass or block, got %q", c.DefaultAction)
	}

	if c.Control != nil {
		if !filepath.IsAbs(c.Control.Socket) {
			add("control.socket", "must be an absolute path")
		}
		if mode, err := strconv.ParseUint(c.Control.Mode, 8, 32); err != nil || mode > 0o777 {
			add("control.mode", "invalid octal permission %q", c.Control.Mode)
		}
		for _, uid := range c.Control.AdminUIDs {
			if uid < 0 {
				add("control.admin_uids", "negative uid %d", uid)
			}
		}
		if c.Control.AdminGID != nil && *c.Control.AdminGID < 0 {
			add("control.admin_gid", "negative gid %d", *c.Control.AdminGID)
		}
	}

	if c.Engine != nil {
		if !tableNamePattern.MatchString(c.Engine.Table) {
			add("engine.table", "invalid table name %q", c.Engine.Table)
		}
		switch c.Engine.Family {
		case "inet", "ip", "ip6":
		default:
			add("engine.family", "must be inet, ip or ip6, got %q", c.Engine.Family)
		}
	}

	if c.Hooks != nil {
		seen := make(map[string]bool)
		for _, ch := range c.Hooks.Chains {
			name := strings.ToLower(ch)
			if !slices.Contains(knownHooks, name) {
				add("hooks.chains", "unknown hook %q", ch)
			}
			if seen[name] {
				add("hooks.chains", "hook %q listed twice", ch)
			}
			seen[name] = true
		}
	}

	if c.Metrics != nil && c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "%v", err)
		}
	}

	return errs
}
