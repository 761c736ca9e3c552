// internal/uploader/uploader.go
package uploader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/files"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

// ErrNoFile means neither the tracking file nor FILE_PATH names a file.
var ErrNoFile = errors.New("no file to upload")

// ErrControlNotFound means the portal did not render an upload control.
var ErrControlNotFound = errors.New("upload control not found")

var (
	uploadCommand     = dom.AllOf(dom.Tag("button"), dom.Attr("data-automationid", "uploadCommand"))
	uploadFileCommand = dom.AllOf(dom.Tag("button"), dom.Attr("data-automationid", "uploadFileCommand"), dom.Visible)
)

// ResolveSource picks the file to upload: the tracked artifact when it still
// exists, otherwise the configured FILE_PATH.
func ResolveSource(paths config.PathsConfig, sp config.SharePointConfig, logger *zap.Logger) (string, error) {
	tracked, err := files.LoadTracking(paths.TrackingFile)
	if err != nil {
		logger.Warn("Could not read the tracking file.", zap.Error(err))
	}
	if tracked != "" && files.Exists(tracked) {
		logger.Info("Using the last downloaded file.", zap.String("file", filepath.Base(tracked)))
		return tracked, nil
	}

	if sp.FilePath != "" {
		p, err := files.ExpandPath(sp.FilePath)
		if err != nil {
			return "", fmt.Errorf("failed to expand FILE_PATH: %w", err)
		}
		if files.Exists(p) {
			logger.Info("Using the configured file.", zap.String("file", filepath.Base(p)))
			return p, nil
		}
	}
	return "", ErrNoFile
}

// HelperStarter launches the file-picker helper for file.
type HelperStarter func(ctx context.Context, file string) (*Helper, error)

// Uploader sends a file to the portal's document library.
type Uploader struct {
	Page   browser.Page
	Store  *sessionstore.Store
	Config config.Interface
	Logger *zap.Logger
	// StartHelper defaults to running the configured helper command.
	StartHelper HelperStarter
}

func (u *Uploader) startHelper(ctx context.Context, file string) (*Helper, error) {
	if u.StartHelper != nil {
		return u.StartHelper(ctx, file)
	}
	return StartHelper(ctx, u.Config.SharePoint().Helper, file, u.Logger)
}

// Run opens the portal, starts the helper that answers the OS file dialog and
// clicks through the upload menu. The helper is given HelperWait to finish
// before the session is saved and the run returns.
func (u *Uploader) Run(ctx context.Context, file string) error {
	timing := u.Config.Timing()
	sp := u.Config.SharePoint()
	logger := u.Logger.Named("uploader").With(zap.String("file", filepath.Base(file)))
	nav := navigator.New(u.Page, timing, logger)

	rec, err := u.Store.Load(sessionstore.SharePoint)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := u.Store.Apply(ctx, u.Page, rec); err != nil {
			logger.Warn("Could not restore the stored session.", zap.Error(err))
		}
	}

	logger.Info("Opening the file portal.", zap.String("url", sp.URL))
	if err := u.Page.Navigate(ctx, sp.URL); err != nil {
		return err
	}
	u.Store.ApplyStorage(ctx, u.Page, rec)
	logger.Info("Waiting for the portal to load; complete any authenticator prompt.", zap.Duration("wait", timing.UploadSettle))
	if err := nav.Pause(ctx, timing.UploadSettle); err != nil {
		return err
	}
	u.saveSession(ctx, logger)

	helper, err := u.startHelper(ctx, file)
	if err != nil {
		return err
	}
	defer helper.Stop(timing.Short)

	if err := u.click(ctx, nav, uploadCommand, "upload"); err != nil {
		return err
	}
	if err := u.click(ctx, nav, uploadFileCommand, "files"); err != nil {
		return err
	}
	logger.Info("File dialog opened; the helper selects the file.", zap.Duration("wait", timing.HelperWait))

	if err := nav.Pause(ctx, timing.HelperWait); err != nil {
		return err
	}

	logger.Info("Upload finished.")
	u.saveSession(ctx, logger)
	return nil
}

// click waits for an upload control and clicks it. A control that never
// shows is fatal: there is nothing else to try on this page.
func (u *Uploader) click(ctx context.Context, nav *navigator.Navigator, m dom.Matcher, name string) error {
	timing := nav.Timing()
	n, err := nav.WaitForNode(ctx, timing.PollInterval, timing.MenuAppear, func(tree *dom.Tree) *dom.Node {
		return tree.First(m)
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return fmt.Errorf("%w: %s", ErrControlNotFound, name)
		}
		return err
	}
	if err := u.Page.Click(ctx, n); err != nil {
		return fmt.Errorf("failed to click %s: %w", name, err)
	}
	return nil
}

func (u *Uploader) saveSession(ctx context.Context, logger *zap.Logger) {
	if err := u.Store.Save(ctx, sessionstore.SharePoint, u.Page); err != nil {
		logger.Warn("Could not save the session.", zap.Error(err))
	}
}
