// internal/files/tracking.go
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// SaveTracking records the absolute path of the latest artifact, replacing
// whatever was tracked before.
func SaveTracking(trackingFile, artifactPath string) error {
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to resolve artifact path: %w", err)
	}
	return WriteAtomic(trackingFile, []byte(abs), 0o644)
}

// LoadTracking returns the tracked path, or "" when nothing is tracked yet.
func LoadTracking(trackingFile string) (string, error) {
	data, err := os.ReadFile(trackingFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tracking file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ExpandPath resolves a leading ~ and any %USERPROFILE% reference to the
// current user's home directory.
func ExpandPath(p string) (string, error) {
	if strings.Contains(p, "%USERPROFILE%") {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		p = strings.ReplaceAll(p, "%USERPROFILE%", home)
	}
	return homedir.Expand(p)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
