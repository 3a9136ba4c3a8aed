//go:build darwin
// +build darwin

package fs

import (
	"fmt"
	"os/exec"
)

// Reveal shows the file in a new Finder window.
func Reveal(path string) error {
	if err := exec.Command("open", "-R", path).Start(); err != nil {
		return fmt.Errorf("failed to open Finder: %w", err)
	}
	return nil
}
