// File: cmd/session.go
package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

// closeTimeout bounds the graceful browser shutdown.
const closeTimeout = 10 * time.Second

// launchFor starts a browser on the persistent profile of site.
func launchFor(ctx context.Context, cfg *config.Config, store *sessionstore.Store, site string, onScreen bool, downloadDir string, logger *zap.Logger) (*browser.Session, func(), error) {
	sess, err := browser.Launch(ctx, cfg.Browser(), cfg.Timing(), browser.Options{
		ProfileDir:  store.ProfileDir(site),
		DownloadDir: downloadDir,
		Supervised:  onScreen,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		// The run context may already be canceled; closing still needs time.
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), closeTimeout)
		defer cancel()
		_ = sess.Close(closeCtx)
	}
	return sess, closeFn, nil
}
