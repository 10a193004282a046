// Package brand holds the names and default locations of npfd, with
// environment overrides for non-standard installs.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name            = "npfd"
	Description     = "packet filter daemon"
	ConfigEnvPrefix = "NPFD"

	DefaultConfigDir = "/etc/npfd"
	DefaultRunDir    = "/run/npfd"
	ConfigFileName   = "npfd.hcl"
	SocketName       = "npf.sock"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// GetConfigPath returns the configuration file path.
// Priority: NPFD_CONFIG > NPFD_PREFIX/etc > DefaultConfigDir
func GetConfigPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "etc", ConfigFileName)
	}
	return filepath.Join(DefaultConfigDir, ConfigFileName)
}

// GetRunDir returns the runtime directory for the control socket.
// Priority: NPFD_RUN_DIR > NPFD_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// GetSocketPath returns the control socket path used by ctl commands.
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), SocketName)
}
