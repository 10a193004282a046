package lifecycle

import "grimm.is/npfd/internal/engine"

// HookState reports whether packet hooks are attached.
type HookState interface {
	Registered() bool
}

// DefaultActioner reports the engine's verdict for unmatched packets.
type DefaultActioner interface {
	DefaultAction() engine.Action
}

// MayAutounload is true iff no packet hooks are attached and the default
// action is pass. A nil e counts as pass.
func MayAutounload(h HookState, e DefaultActioner) bool {
	if h.Registered() {
		return false
	}
	return e == nil || e.DefaultAction() == engine.ActionPass
}
