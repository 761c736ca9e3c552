// internal/downloader/downloader.go
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/login"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// DownloadWaiter reports downloads started by the page.
type DownloadWaiter interface {
	Mark() int
	Wait(ctx context.Context, mark int, timeout time.Duration) (*browser.Download, error)
}

// Downloader exports the results table of the analytics panel.
type Downloader struct {
	page      browser.Page
	nav       *navigator.Navigator
	filler    *login.Filler
	windows   browser.WindowSource
	downloads DownloadWaiter
	timing    config.TimingConfig
	user      string
	logger    *zap.Logger
}

// New creates a Downloader. windows may be nil, in which case re-authentication
// popups are left to the user.
func New(page browser.Page, windows browser.WindowSource, downloads DownloadWaiter, timing config.TimingConfig, user string, logger *zap.Logger) *Downloader {
	logger = logger.Named("downloader")
	return &Downloader{
		page:      page,
		nav:       navigator.New(page, timing, logger),
		filler:    login.New(page, timing, logger),
		windows:   windows,
		downloads: downloads,
		timing:    timing,
		user:      user,
		logger:    logger,
	}
}

// WaitForResultsTable waits for a table to render. A timeout is reported as
// false and the caller continues anyway.
func (d *Downloader) WaitForResultsTable(ctx context.Context) (bool, error) {
	d.logger.Info("Waiting for the results table.")
	err := d.nav.WaitFor(ctx, d.timing.PollInterval, d.timing.ResultsTable, func(tree *dom.Tree) bool {
		return tree.First(resultsTable) != nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			d.logger.Warn("No table appeared before the timeout; continuing.")
			return false, nil
		}
		return false, err
	}
	d.logger.Info("Results table detected.")
	return true, d.nav.Pause(ctx, d.timing.Short)
}

// ClickTableActionButton opens the actions dropdown of the results table.
func (d *Downloader) ClickTableActionButton(ctx context.Context) (bool, error) {
	tree, err := d.nav.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	button := FindTableActionButton(tree)
	if button == nil {
		d.logger.Warn("Table action button not found.")
		return false, nil
	}
	if err := d.page.Click(ctx, button); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Warn("Could not click the table action button.", zap.Error(err))
		return false, nil
	}
	d.logger.Info("Table actions opened.", zap.String("control", button.Selector()))
	return true, d.nav.Pause(ctx, d.timing.Long)
}

// DownloadCurrentTable drives the table's download menu to an Excel export
// and waits for the browser to finish the file. With manualLogin the user is
// given the manual login window to pass any re-authentication the export
// triggers; otherwise popups are handled automatically. Any stage that misses
// ends the sequence with false.
func (d *Downloader) DownloadCurrentTable(ctx context.Context, manualLogin bool) (bool, error) {
	if _, err := d.WaitForResultsTable(ctx); err != nil {
		return false, err
	}

	d.logger.Info("Opening the table download menu.")
	if ok, err := d.ClickTableActionButton(ctx); !ok || err != nil {
		return false, err
	}
	if ok, err := d.nav.ClickMenuOption(ctx, DownloadMenuLabels, "Descargar", d.nav.MenuSettle()); !ok || err != nil {
		if err == nil {
			d.logger.Warn("Could not open the download submenu.")
		}
		return false, err
	}
	if _, err := d.nav.ScrollVisibleMenu(ctx); err != nil {
		return false, err
	}

	mark := d.downloads.Mark()
	if ok, err := d.nav.ClickMenuOption(ctx, ExcelLabels, "Excel", d.nav.MenuSettle()); !ok || err != nil {
		if err == nil {
			d.logger.Warn("Could not select the Excel option.")
		}
		return false, err
	}

	dl, err := d.awaitDownload(ctx, mark, manualLogin)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Warn("The export did not produce a download.", zap.Error(err))
		return false, nil
	}
	d.logger.Info("Excel export downloaded.",
		zap.String("file", dl.SuggestedFilename),
		zap.Float64("bytes", dl.ReceivedBytes),
	)
	return true, d.nav.Pause(ctx, d.timing.Medium)
}

// awaitDownload confirms the export instead of sleeping blindly. In
// automatic mode a login window that shows up meanwhile is filled in.
func (d *Downloader) awaitDownload(ctx context.Context, mark int, manualLogin bool) (*browser.Download, error) {
	if manualLogin {
		d.logger.Warn("Complete any login prompt in the browser; the download continues afterwards.",
			zap.Duration("window", d.timing.ManualLogin))
		return d.downloads.Wait(ctx, mark, d.timing.ManualLogin)
	}

	d.logger.Info("Waiting for the download to complete.")
	dl, err := d.downloads.Wait(ctx, mark, d.timing.Medium)
	if err == nil || !errors.Is(err, poll.ErrTimeout) || d.windows == nil {
		return dl, err
	}

	d.logger.Info("Download has not finished yet; checking for a login window.")
	if _, err := d.filler.PopupLogin(ctx, d.windows, d.user); err != nil {
		return nil, fmt.Errorf("popup login: %w", err)
	}
	return d.downloads.Wait(ctx, mark, d.timing.DownloadComplete)
}
