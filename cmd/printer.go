// Package cmd implements the npfd subcommands.
package cmd

import "grimm.is/npfd/internal/i18n"

// Printer formats human-facing output for the current locale.
var Printer = i18n.NewCLIPrinter()
