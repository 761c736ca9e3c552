// internal/files/prepare.go
package files

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

// ErrNoArtifact is returned by Prepare when the downloads directory holds no
// matching file.
var ErrNoArtifact = errors.New("no downloaded artifact found")

// Prepare resolves the newest artifact in the downloads directory, gives it
// its canonical dated name and records the result in the tracking file. It
// returns the artifact as renamed.
func Prepare(paths config.PathsConfig, now time.Time) (*Artifact, error) {
	latest, err := Latest(paths.DownloadsDir, paths.ArtifactPrefix, paths.ArtifactSuffix)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoArtifact
	}
	return Adopt(latest, paths.TrackingFile, now)
}

// Adopt renames a resolved artifact and records it in the tracking file.
func Adopt(a *Artifact, trackingFile string, now time.Time) (*Artifact, error) {
	renamed, err := Rename(a.Path, now)
	if err != nil {
		return nil, err
	}
	if err := SaveTracking(trackingFile, renamed); err != nil {
		return nil, err
	}
	return &Artifact{Name: filepath.Base(renamed), Path: renamed, ModTime: a.ModTime}, nil
}
