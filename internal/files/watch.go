// internal/files/watch.go
package files

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// WaitForArtifact blocks until dir holds a matching artifact modified after
// since, and returns it. It returns poll.ErrTimeout when none shows up within
// timeout.
func WaitForArtifact(ctx context.Context, logger *zap.Logger, dir, prefix, suffix string, since time.Time, timeout time.Duration) (*Artifact, error) {
	fresh := func() (*Artifact, error) {
		a, err := Latest(dir, prefix, suffix)
		if err != nil || a == nil || a.ModTime.Before(since) {
			return nil, err
		}
		return a, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The file may have landed before the watch was armed.
	if a, err := fresh(); err != nil || a != nil {
		return a, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, poll.ErrTimeout
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			logger.Warn("Filesystem watcher error.", zap.Error(err))
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			name := filepath.Base(ev.Name)
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
				continue
			}
			logger.Debug("Artifact event.", zap.String("name", name), zap.String("op", ev.Op.String()))
			if a, err := fresh(); err != nil || a != nil {
				return a, err
			}
		}
	}
}
