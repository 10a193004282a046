// Package ctlplane implements the privileged control device of npfd.
//
// # Overview
//
// Management tools talk to the daemon over a Unix socket. Each request
// carries one opcode and an opaque payload; the [Dispatcher] authorizes
// the caller and routes the payload to the active engine or the hook
// layer. The dispatcher never looks inside payloads.
//
//	npfd ctl → Client → Unix socket → Device → Dispatcher → Engine
//
// # Key Types
//
//   - [Dispatcher]: authorization and closed opcode routing
//   - [Device]: the socket server, one rpc.Server per connection bound to
//     the peer's SO_PEERCRED credentials
//   - [Client]: RPC client used by the ctl subcommands
//   - [ControlClient]: interface for mocking in tests
//
// # Errors
//
// Replies carry an errno next to the message so [Client] can return the
// same sentinel errors the dispatcher produced: EPERM for
// [ErrPermissionDenied], ENOTTY for [ErrUnsupportedOperation] and ENOTSUP
// for [ErrOperationNotSupported].
package ctlplane
