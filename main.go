package main

import (
	"flag"
	"os"

	"grimm.is/npfd/cmd"
	"grimm.is/npfd/internal/brand"
	"grimm.is/npfd/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.GetConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile); err != nil {
			printer.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "ctl":
		ctlFlags := flag.NewFlagSet("ctl", flag.ExitOnError)
		socket := ctlFlags.String("socket", brand.GetSocketPath(), "Control socket")
		ctlFlags.StringVar(socket, "s", brand.GetSocketPath(), "Control socket (short)")
		ctlFlags.Parse(os.Args[2:])

		if err := cmd.RunCtl(*socket, ctlFlags.Args()); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.GetConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose, os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "config":
		configFile := brand.GetConfigPath()
		if len(os.Args) > 2 {
			configFile = os.Args[2]
		}
		if err := cmd.RunConfig(configFile, os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  start     Run the daemon in the foreground
            Options: --config (-c) <file>
            SIGHUP unloads the filter only when it is idle
  ctl       Talk to the running daemon
            Options: --socket (-s) <path>
            Subcommands: version, stats, save, load, diff, switch, table, rule
  check     Validate configuration file
            Options: --verbose (-v)
  config    Print the effective configuration
  version   Print version information

Examples:
  %s start -c /etc/npfd/npfd.hcl
  %s ctl save > rules.json
  %s ctl switch off
`, brand.Name, brand.Description, brand.Name, brand.Name, brand.Name, brand.Name)
}
