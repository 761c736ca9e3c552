// internal/files/artifact.go
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Artifact is a downloaded export found on disk.
type Artifact struct {
	Name    string
	Path    string
	ModTime time.Time
}

// dateSuffix matches the _YYYYMMDD stamp Rename appends.
var dateSuffix = regexp.MustCompile(`_\d{8}$`)

// Latest returns the most recently modified regular file in dir whose name
// starts with prefix and ends with suffix, or nil when none match.
func Latest(dir, prefix, suffix string) (*Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloads directory: %w", err)
	}

	var latest *Artifact
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		mod := info.ModTime()
		if latest == nil || mod.After(latest.ModTime) || (mod.Equal(latest.ModTime) && name > latest.Name) {
			latest = &Artifact{Name: name, Path: filepath.Join(dir, name), ModTime: mod}
		}
	}
	return latest, nil
}

// CanonicalName stamps name with the date of now, replacing an existing
// stamp, so applying it twice on the same day is a no-op.
func CanonicalName(name string, now time.Time) string {
	ext := filepath.Ext(name)
	base := dateSuffix.ReplaceAllString(strings.TrimSuffix(name, ext), "")
	return base + "_" + now.Format("20060102") + ext
}

// Rename moves path to its canonical name in the same directory and returns
// the new path.
func Rename(path string, now time.Time) (string, error) {
	newPath := filepath.Join(filepath.Dir(path), CanonicalName(filepath.Base(path), now))
	if newPath == path {
		return path, nil
	}
	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("failed to rename artifact: %w", err)
	}
	return newPath, nil
}
