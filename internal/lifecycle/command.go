package lifecycle

import (
	"context"
	"fmt"
)

// ModCmd is a module command delivered by the daemon runner.
type ModCmd int

const (
	ModInit ModCmd = iota
	ModFini
	ModAutounload
)

func (c ModCmd) String() string {
	switch c {
	case ModInit:
		return "init"
	case ModFini:
		return "fini"
	case ModAutounload:
		return "autounload"
	}
	return fmt.Sprintf("modcmd(%d)", int(c))
}

// Command runs a module command. Autounload answers ErrBusy while the
// filter must stay loaded.
func (m *Manager) Command(ctx context.Context, cmd ModCmd) error {
	switch cmd {
	case ModInit:
		return m.Activate(ctx)
	case ModFini:
		m.Deactivate(ctx)
		return nil
	case ModAutounload:
		if !m.MayAutounload() {
			return ErrBusy
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)
	}
}
