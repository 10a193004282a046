//go:build !linux

package cmd

import (
	"fmt"
	"runtime"

	"grimm.is/npfd/internal/brand"
)

// RunStart is only available on Linux.
func RunStart(string) error {
	return fmt.Errorf("%s start is not supported on %s", brand.Name, runtime.GOOS)
}
