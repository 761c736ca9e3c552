// internal/downloader/flow.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/files"
	"github.com/xkilldash9x/telemetry-sync/internal/login"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

// panelOffset is how much of the panel stays below the viewport after the
// scroll, which keeps the results table in view.
const panelOffset = 400

// Options select the manual login windows of a run.
type Options struct {
	// ManualLogin grants the manual window after login and at download.
	ManualLogin bool
	// ManualDownloadLogin grants it only at download.
	ManualDownloadLogin bool
}

// Result describes what a run produced.
type Result struct {
	Downloaded bool
	// Artifact is the renamed file recorded in the tracking file, or "".
	Artifact string
}

// Flow is the end-to-end analytics export: restore the session, log in if
// needed, open the panel, export the table and hand the file to the next step.
type Flow struct {
	Page      browser.Page
	Windows   browser.WindowSource
	Downloads DownloadWaiter
	Store     *sessionstore.Store
	Config    config.Interface
	Logger    *zap.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

func (f *Flow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Run executes the flow. Detection misses end the browser part early but the
// artifact is still resolved; only a dead browser, a canceled context or a
// corrupt stored session fail the run.
func (f *Flow) Run(ctx context.Context, opts Options) (*Result, error) {
	timing := f.Config.Timing()
	sf := f.Config.Salesforce()
	logger := f.Logger.Named("flow")
	nav := navigator.New(f.Page, timing, logger)
	filler := login.New(f.Page, timing, logger)
	dl := New(f.Page, f.Windows, f.Downloads, timing, sf.User, logger)

	rec, err := f.Store.Load(sessionstore.Salesforce)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if err := f.Store.Apply(ctx, f.Page, rec); err != nil {
			logger.Warn("Could not restore the stored session.", zap.Error(err))
		}
	}

	logger.Info("Opening the analytics dashboard.", zap.String("url", sf.URL))
	if err := f.Page.Navigate(ctx, sf.URL); err != nil {
		return nil, err
	}
	f.Store.ApplyStorage(ctx, f.Page, rec)
	if err := nav.Pause(ctx, timing.Medium); err != nil {
		return nil, err
	}

	needs, err := filler.NeedsLogin(ctx, login.Analytics)
	if err != nil {
		return nil, err
	}
	if needs {
		if _, err := filler.AutoLogin(ctx, sf.User); err != nil {
			return nil, err
		}
	} else {
		logger.Info("Already authenticated.")
	}

	if opts.ManualLogin {
		err = filler.AwaitManual(ctx, timing.ManualLogin)
	} else {
		logger.Info("Complete any authenticator prompt in the browser if one appears.")
		err = nav.Pause(ctx, timing.Long)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{}
	start := time.Now()
	if res.Downloaded, err = f.export(ctx, nav, dl, opts); err != nil {
		return nil, err
	}
	if res.Downloaded {
		f.saveSession(ctx, logger, "after download")
	}

	res.Artifact = f.resolve(ctx, logger, res.Downloaded, start)
	f.saveSession(ctx, logger, "on close")
	return res, nil
}

// export walks from the dashboard to the panel and downloads its table.
func (f *Flow) export(ctx context.Context, nav *navigator.Navigator, dl *Downloader, opts Options) (bool, error) {
	timing := nav.Timing()
	if _, err := nav.WaitForAnalyticsReady(ctx); err != nil {
		return false, err
	}
	ok, err := nav.ClickButtonByText(ctx, "Mis vistas")
	if !ok || err != nil {
		return false, err
	}
	if _, err := nav.ClickMenuOption(ctx, []string{"paneles"}, "Paneles", timing.Short); err != nil {
		return false, err
	}
	if _, err := nav.ScrollPanelToBottom(ctx, panelOffset); err != nil {
		return false, err
	}
	f.Logger.Info("Waiting for the panel view to load.", zap.Duration("wait", timing.TableLoad))
	if err := nav.Pause(ctx, timing.TableLoad); err != nil {
		return false, err
	}
	return dl.DownloadCurrentTable(ctx, opts.ManualLogin || opts.ManualDownloadLogin)
}

// resolve finds the exported file, renames it and records it for the next
// step. Failures are logged; the run itself still succeeds.
func (f *Flow) resolve(ctx context.Context, logger *zap.Logger, downloaded bool, since time.Time) string {
	paths := f.Config.Paths()
	logger = logger.With(zap.String("dir", paths.DownloadsDir))

	// Filesystem timestamps can trail the wall clock slightly.
	cutoff := since.Add(-time.Second)

	var artifact *files.Artifact
	var err error
	if downloaded {
		artifact, err = files.WaitForArtifact(ctx, logger, paths.DownloadsDir, paths.ArtifactPrefix, paths.ArtifactSuffix,
			cutoff, f.Config.Timing().DownloadComplete)
		if errors.Is(err, poll.ErrTimeout) {
			err = nil
		}
	}
	if artifact == nil && err == nil {
		artifact, err = files.Latest(paths.DownloadsDir, paths.ArtifactPrefix, paths.ArtifactSuffix)
		// A file older than this run belongs to an earlier one, possibly
		// already uploaded; renaming it would pass it off as today's export.
		if artifact != nil && artifact.ModTime.Before(cutoff) {
			logger.Info("Ignoring a file left by an earlier run.",
				zap.String("file", artifact.Name), zap.Time("modified", artifact.ModTime))
			artifact = nil
		}
	}
	if err != nil {
		logger.Warn("Could not look for the downloaded file.", zap.Error(err))
		return ""
	}
	if artifact == nil {
		logger.Warn("No matching downloaded file found.",
			zap.String("pattern", fmt.Sprintf("%s*%s", paths.ArtifactPrefix, paths.ArtifactSuffix)))
		return ""
	}

	logger.Info("Downloaded file found.", zap.String("file", artifact.Name))
	adopted, err := files.Adopt(artifact, paths.TrackingFile, f.now())
	if err != nil {
		logger.Warn("Could not prepare the downloaded file.", zap.Error(err))
		return ""
	}
	logger.Info("Downloaded file tracked.", zap.String("path", adopted.Path))
	return adopted.Path
}

func (f *Flow) saveSession(ctx context.Context, logger *zap.Logger, when string) {
	if err := f.Store.Save(ctx, sessionstore.Salesforce, f.Page); err != nil {
		logger.Warn("Could not save the session.", zap.String("when", when), zap.Error(err))
	}
}
