package cmd

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/npfd/internal/lifecycle"
	"grimm.is/npfd/internal/logging"
)

type recordingCommander struct {
	autounload error
	cmds       []lifecycle.ModCmd
}

func (r *recordingCommander) Command(_ context.Context, cmd lifecycle.ModCmd) error {
	r.cmds = append(r.cmds, cmd)
	if cmd == lifecycle.ModAutounload {
		return r.autounload
	}
	return nil
}

func TestHandleSignal(t *testing.T) {
	logger := logging.Discard()

	tests := []struct {
		name       string
		sig        os.Signal
		autounload error
		wantExit   bool
		wantCmds   []lifecycle.ModCmd
	}{
		{"interrupt", os.Interrupt, nil, true, []lifecycle.ModCmd{lifecycle.ModFini}},
		{"term", syscall.SIGTERM, nil, true, []lifecycle.ModCmd{lifecycle.ModFini}},
		{"hup idle", syscall.SIGHUP, nil, true, []lifecycle.ModCmd{lifecycle.ModAutounload, lifecycle.ModFini}},
		{"hup busy", syscall.SIGHUP, lifecycle.ErrBusy, false, []lifecycle.ModCmd{lifecycle.ModAutounload}},
		{"hup error", syscall.SIGHUP, lifecycle.ErrUnsupportedCommand, false, []lifecycle.ModCmd{lifecycle.ModAutounload}},
		{"other", syscall.SIGPIPE, nil, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingCommander{autounload: tt.autounload}
			assert.Equal(t, tt.wantExit, handleSignal(context.Background(), rec, tt.sig, logger))
			assert.Equal(t, tt.wantCmds, rec.cmds)
		})
	}
}
