//go:build !windows && !darwin
// +build !windows,!darwin

package fs

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// Reveal opens the containing directory in the desktop file manager.
// Linux file managers have no portable select-file flag, so the
// directory itself is opened.
func Reveal(path string) error {
	if err := exec.Command("xdg-open", filepath.Dir(path)).Start(); err != nil {
		return fmt.Errorf("failed to open file manager: %w", err)
	}
	return nil
}
