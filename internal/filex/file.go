// Package filex contains small filesystem helpers.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory holding path if it does not exist yet
// and returns the absolute path. Used before opening the local database so a
// configured path like ~/.passvault/passvault.db works on first run.
func EnsureParentDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", filepath.Dir(abs), err)
	}

	return abs, nil
}
