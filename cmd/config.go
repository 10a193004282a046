package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/config"
	"grimm.is/npfd/internal/logging"
)

// loadConfig reads configFile. A missing file at the default location
// yields the built-in defaults so a bare install can start.
func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && configFile == brand.GetConfigPath() {
		return config.Default(), nil
	}
	return nil, err
}

// newLogger builds the daemon logger from cfg.
func newLogger(cfg *config.Config, out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:  level,
		Output: out,
		JSON:   cfg.LogJSON,
	}), nil
}

// RunConfig prints the effective configuration as HCL.
func RunConfig(configFile string, out io.Writer) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, err = out.Write(cfg.HCL())
	return err
}
