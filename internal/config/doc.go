// Package config handles npfd's HCL configuration.
//
// # Overview
//
// The daemon reads one HCL file, /etc/npfd/npfd.hcl by default. Every
// attribute is optional; [Default] supplies the values used when an
// attribute or a whole block is left out. Expressions can read the
// environment through the env object:
//
//	control {
//	  socket = "${env.RUNTIME_DIRECTORY}/npf.sock"
//	}
//
// # Blocks
//
//   - control: socket path and mode, and who may administer the filter
//   - engine: nftables table name and family
//   - hooks: netfilter hooks to attach and the link watcher
//   - metrics: Prometheus listen address
package config
