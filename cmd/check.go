package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool, out io.Writer) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.Name)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Fprintf(out, "Configuration valid!\n")
	if verbose {
		printSummary(out, cfg)
	}
	return nil
}

func printSummary(out io.Writer, cfg *config.Config) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "Default action:\t%s\n", cfg.DefaultAction)
	Printer.Fprintf(w, "Control socket:\t%s (%s)\n", cfg.Control.Socket, cfg.Control.Mode)
	Printer.Fprintf(w, "Admin UIDs:\t%v\n", cfg.Control.AdminUIDs)
	if cfg.Control.AdminGID != nil {
		Printer.Fprintf(w, "Admin GID:\t%d\n", *cfg.Control.AdminGID)
	}
	Printer.Fprintf(w, "Table:\t%s %s\n", cfg.Engine.Family, cfg.Engine.Table)
	Printer.Fprintf(w, "Hooks:\t%v (priority %d)\n", cfg.Hooks.Chains, cfg.Hooks.Priority)
	Printer.Fprintf(w, "Watch links:\t%t\n", *cfg.Hooks.WatchLinks)
	if cfg.Metrics.Listen == "" {
		Printer.Fprintf(w, "Metrics:\tdisabled\n")
	} else {
		Printer.Fprintf(w, "Metrics:\t%s\n", cfg.Metrics.Listen)
	}
	w.Flush()
}
