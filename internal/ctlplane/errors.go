package ctlplane

import (
	"errors"

	"golang.org/x/sys/unix"

	"grimm.is/npfd/internal/engine"
)

var (
	// ErrPermissionDenied is returned for every request from a caller
	// without the administration capability, whatever the opcode.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupportedOperation reports an opcode outside the closed set.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrOperationNotSupported is the fixed answer to Poll and Read.
	ErrOperationNotSupported = errors.New("operation not supported")
	// ErrNoEngine reports a request that raced with deactivation.
	ErrNoEngine = errors.New("no active engine")
)

// errnoTable maps sentinels onto the errno carried in replies. Order
// matters: the first match wins.
var errnoTable = []struct {
	err   error
	errno unix.Errno
}{
	{ErrPermissionDenied, unix.EPERM},
	{ErrUnsupportedOperation, unix.ENOTTY},
	{ErrOperationNotSupported, unix.ENOTSUP},
	{ErrNoEngine, unix.ENXIO},
	{engine.ErrInvalid, unix.EINVAL},
	{engine.ErrNotFound, unix.ENOENT},
	{engine.ErrExists, unix.EEXIST},
	{engine.ErrBusy, unix.EBUSY},
}

// errnoOf returns the errno reported for err. Errors that are neither a
// known sentinel nor wrap an errno report EIO.
func errnoOf(err error) unix.Errno {
	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// RemoteError is an error reported by the daemon. It unwraps to the
// sentinel matching its errno, and to the errno itself.
type RemoteError struct {
	Errno unix.Errno
	Msg   string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

func (e *RemoteError) Unwrap() []error {
	for _, s := range errnoTable {
		if s.errno == e.Errno {
			return []error{s.err, e.Errno}
		}
	}
	return []error{e.Errno}
}
