//go:build linux

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/config"
	"grimm.is/npfd/internal/ctlplane"
	"grimm.is/npfd/internal/engine"
	"grimm.is/npfd/internal/hooks"
	"grimm.is/npfd/internal/ifops"
	"grimm.is/npfd/internal/lifecycle"
	"grimm.is/npfd/internal/logging"
	"grimm.is/npfd/internal/metrics"
	"grimm.is/npfd/internal/nft"
)

// RunStart runs the packet filter daemon in the foreground until it is
// told to stop.
func RunStart(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	logger.Info("starting", "version", brand.Version, "commit", brand.GitCommit, "config", configFile)

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := mgr.Command(ctx, lifecycle.ModInit); err != nil {
		return fmt.Errorf("failed to activate packet filter: %w", err)
	}

	if err := metrics.Register(metrics.NewRuleCollector(ruleSamples(mgr))); err != nil {
		logger.Warn("failed to register rule collector", "error", err)
	}
	srv := startMetricsServer(cfg.Metrics.Listen, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if handleSignal(ctx, mgr, sig, logger) {
			break
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	logger.Info("stopped")
	return nil
}

// buildManager wires the engine, hook layer and control device.
func buildManager(cfg *config.Config, logger *logging.Logger) (*lifecycle.Manager, error) {
	family, err := nft.ParseFamily(cfg.Engine.Family)
	if err != nil {
		return nil, err
	}
	def, err := engine.ParseAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}

	engineConn, err := nft.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	hookConn, err := nft.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}

	ops := ifops.NewNetlink(logger.WithComponent("ifops"))
	factory := engine.NewNFTFactory(engineConn, engine.Config{
		Table:         cfg.Engine.Table,
		Family:        family,
		DefaultAction: def,
	}, logger.WithComponent("engine"))

	var mgr *lifecycle.Manager
	layer, err := hooks.New(hookConn, hooks.Config{
		Table:      cfg.Engine.Table,
		Family:     family,
		Chains:     cfg.Hooks.Chains,
		Priority:   cfg.Hooks.Priority,
		WatchLinks: *cfg.Hooks.WatchLinks,
	},
		hooks.WithLogger(logger.WithComponent("hooks")),
		hooks.WithLinkTarget(func() hooks.LinkTarget {
			target, _ := mgr.Engine().(hooks.LinkTarget)
			return target
		}),
		hooks.WithForget(ops.Forget),
	)
	if err != nil {
		return nil, err
	}

	device := ctlplane.NewDevice(cfg.Control.Socket, cfg.Control.SocketMode(), logger.WithComponent("device"))
	mgr = lifecycle.New(lifecycle.Deps{
		Factory: factory,
		Ops:     ops,
		Hooks:   layer,
		Device:  device,
		Authorizer: ctlplane.AdminPolicy{
			UIDs: cfg.Control.UIDs(),
			GID:  cfg.Control.GID(),
		},
		Logger: logger,
	})
	return mgr, nil
}

// ruleSamples reads counters from whichever engine is currently published.
func ruleSamples(mgr *lifecycle.Manager) metrics.SampleSource {
	return func() ([]metrics.RuleSample, bool) {
		e, ok := mgr.Engine().(*engine.NFT)
		if !ok {
			return nil, false
		}
		samples, err := e.Samples()
		if err != nil {
			return nil, false
		}
		return samples, true
	}
}

func startMetricsServer(addr string, logger *logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
