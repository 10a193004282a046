package ctlplane

import (
	"fmt"
	"slices"
)

// Credentials identify the process on the other end of the control
// socket.
type Credentials struct {
	UID uint32
	GID uint32
	PID int32
}

// Authorizer decides whether a caller holds the firewall administration
// capability.
type Authorizer interface {
	Authorize(cred Credentials) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(cred Credentials) error

func (f AuthorizerFunc) Authorize(cred Credentials) error { return f(cred) }

// AdminPolicy grants administration to a set of UIDs and, optionally, to
// members of one group. The same capability covers every opcode.
type AdminPolicy struct {
	UIDs []uint32
	GID  *uint32
}

// Authorize implements Authorizer.
func (p AdminPolicy) Authorize(cred Credentials) error {
	if slices.Contains(p.UIDs, cred.UID) {
		return nil
	}
	if p.GID != nil && *p.GID == cred.GID {
		return nil
	}
	return fmt.Errorf("%w: uid %d", ErrPermissionDenied, cred.UID)
}
