package fs

import (
	"os"
	"path/filepath"
)

// DefaultDownloadDir returns the default destination directory for
// downloads: a fetchd folder inside the user's Downloads directory.
// Falls back to a relative directory when the home cannot be resolved.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "downloads")
	}
	return filepath.Join(home, "Downloads", "fetchd")
}

// EnsureDir creates the directory if it does not exist yet.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// DiskUsage represents disk usage statistics for the download volume
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// GetDiskUsage returns disk usage for the volume holding dir
// Platform-specific implementation in fs_unix.go and fs_windows.go

// Reveal opens the platform file manager pointing at the given file
// Platform-specific implementation in reveal_unix.go, reveal_darwin.go
// and reveal_windows.go
