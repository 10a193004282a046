// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test unless NPFD_VM_TEST is set. Tests that touch
// the host's nf_tables or links must only run in a disposable VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("NPFD_VM_TEST") == "" {
		t.Skip("Skipping test: requires NPFD_VM_TEST environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
