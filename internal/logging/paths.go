package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.pagesearch/logs, or a temp-dir equivalent when
// the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pagesearch", "logs")
	}
	return filepath.Join(home, ".pagesearch", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "pagesearch.log")
}
