//go:build windows
// +build windows

package fs

import (
	"fmt"
	"os/exec"
)

// Reveal opens an Explorer window with the file selected.
func Reveal(path string) error {
	// explorer returns a nonzero exit code even on success, so only
	// the failure to launch it is reported.
	if err := exec.Command("explorer", "/select,", path).Start(); err != nil {
		return fmt.Errorf("failed to open Explorer: %w", err)
	}
	return nil
}
