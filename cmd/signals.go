package cmd

import (
	"context"
	"errors"
	"os"
	"syscall"

	"grimm.is/npfd/internal/lifecycle"
	"grimm.is/npfd/internal/logging"
)

// commander is the part of lifecycle.Manager the signal loop drives.
type commander interface {
	Command(ctx context.Context, cmd lifecycle.ModCmd) error
}

// handleSignal maps a signal onto module commands. SIGHUP requests an
// autounload and only stops the daemon when the filter may be unloaded.
// It reports whether the daemon should exit.
func handleSignal(ctx context.Context, mgr commander, sig os.Signal, logger *logging.Logger) bool {
	switch sig {
	case syscall.SIGHUP:
		err := mgr.Command(ctx, lifecycle.ModAutounload)
		if errors.Is(err, lifecycle.ErrBusy) {
			logger.Info("autounload refused, packet filter in use")
			return false
		}
		if err != nil {
			logger.Error("autounload failed", "error", err)
			return false
		}
		logger.Info("autounload permitted, shutting down")
		_ = mgr.Command(ctx, lifecycle.ModFini)
		return true

	case os.Interrupt, syscall.SIGTERM:
		logger.Info("received signal, shutting down", "signal", sig)
		_ = mgr.Command(ctx, lifecycle.ModFini)
		return true
	}
	return false
}
