package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects paths containing directory traversal
// components. Absolute paths are allowed here (config and store paths
// are user-chosen locations), unlike request-derived paths.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains NUL byte")
	}

	cleanPath := filepath.Clean(path)
	for _, part := range strings.Split(cleanPath, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}
