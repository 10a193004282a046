package hooks

import "errors"

// ErrInvalid reports a malformed switch request or hook configuration.
var ErrInvalid = errors.New("invalid hook request")

// SwitchRequest is the OpSwitch payload.
type SwitchRequest struct {
	Enable bool `json:"enable"`
}
