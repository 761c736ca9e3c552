// internal/workspace/refresher.go
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/login"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

// Setup is the workspace id that only establishes a session.
const Setup = "setup"

// portalHost must appear in the final URL for the workspace to count as open.
const portalHost = "powerbi.com"

// ErrNoURL is returned when the selected workspace has no URL configured.
var ErrNoURL = errors.New("no URL configured for workspace")

// Result describes what a refresh run achieved.
type Result struct {
	Workspace string
	// URL is the page address after login.
	URL           string
	Authenticated bool
	Refreshed     bool
}

// Refresher opens a BI workspace, signs in when asked to and triggers a
// dataset refresh.
type Refresher struct {
	Page   browser.Page
	Store  *sessionstore.Store
	Config config.Interface
	Logger *zap.Logger
	// WaitForClose blocks until the user closes the browser. The setup
	// workspace calls it instead of refreshing; nil returns immediately.
	WaitForClose func(ctx context.Context) error
}

// Run executes the refresh for workspace id. Like the download flow, misses
// are reported through Result and only infrastructure failures are errors.
func (r *Refresher) Run(ctx context.Context, id string) (*Result, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	wcfg := r.Config.Workspace()
	timing := r.Config.Timing()
	logger := r.Logger.Named("workspace").With(zap.String("workspace", id))
	nav := navigator.New(r.Page, timing, logger)
	filler := login.New(r.Page, timing, logger)

	url := wcfg.URLFor(id)
	if url == "" {
		return nil, fmt.Errorf("%w %q", ErrNoURL, id)
	}
	res := &Result{Workspace: id}

	rec, err := r.Store.Load(sessionstore.Workspace)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if err := r.Store.Apply(ctx, r.Page, rec); err != nil {
			logger.Warn("Could not restore the stored session.", zap.Error(err))
		}
	}

	logger.Info("Opening the workspace.", zap.String("url", url))
	if err := r.Page.Navigate(ctx, url); err != nil {
		return nil, err
	}
	r.Store.ApplyStorage(ctx, r.Page, rec)
	if err := nav.Pause(ctx, timing.Medium); err != nil {
		return nil, err
	}

	needs, err := filler.NeedsLogin(ctx, login.Workspace)
	if err != nil {
		return nil, err
	}
	if needs {
		creds := login.Credentials{User: wcfg.User, Password: wcfg.Password}
		if _, err := filler.Login(ctx, login.Workspace, creds); err != nil {
			return nil, err
		}
		if err := filler.AwaitManual(ctx, timing.ManualLogin); err != nil {
			return nil, err
		}
	} else {
		logger.Info("Already authenticated.")
	}

	logger.Info("Waiting for the workspace to load.")
	if err := nav.Pause(ctx, timing.Long); err != nil {
		return nil, err
	}

	res.URL, err = r.Page.URL(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Workspace page reached.", zap.String("url", res.URL))
	if !strings.Contains(res.URL, portalHost) {
		logger.Warn("Could not verify access to the workspace.")
		return res, nil
	}
	res.Authenticated = true

	if id != Setup {
		if res.Refreshed, err = r.refresh(ctx, nav, logger); err != nil {
			return nil, err
		}
	}

	if err := r.Store.Save(ctx, sessionstore.Workspace, r.Page); err != nil {
		logger.Warn("Could not save the session.", zap.Error(err))
	} else {
		logger.Info("Session saved for future runs.")
	}

	if id == Setup && r.WaitForClose != nil {
		logger.Warn("Setup mode: the browser stays open. Close it when done; the profile keeps the login.")
		if err := r.WaitForClose(ctx); err != nil && !errors.Is(err, poll.ErrTimeout) {
			return nil, err
		}
		logger.Info("Browser closed.")
	}
	return res, nil
}

// refresh opens the dataset refresh dropdown and picks "refresh now".
func (r *Refresher) refresh(ctx context.Context, nav *navigator.Navigator, logger *zap.Logger) (bool, error) {
	timing := nav.Timing()
	logger.Info("Refreshing the dataset.")
	if err := nav.Pause(ctx, timing.Medium); err != nil {
		return false, err
	}

	button, err := nav.WaitForNode(ctx, timing.PollInterval, timing.RefreshControl, FindRefreshButton)
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			logger.Warn("Refresh control not found.")
			return false, nil
		}
		return false, err
	}
	if ok, err := r.click(ctx, logger, button, "Could not open the refresh menu."); !ok || err != nil {
		return false, err
	}
	logger.Info("Refresh menu opened.")
	if err := nav.Pause(ctx, nav.MenuSettle()); err != nil {
		return false, err
	}

	tree, err := nav.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	now := FindRefreshNow(tree)
	if now == nil {
		logger.Warn("Refresh now option not found.", zap.Strings("visible", dropdownLabels(tree)))
		return false, nil
	}
	if ok, err := r.click(ctx, logger, now, "Could not click refresh now."); !ok || err != nil {
		return false, err
	}
	logger.Info("Dataset refresh requested.")
	return true, nav.Pause(ctx, nav.MenuSettle())
}

func (r *Refresher) click(ctx context.Context, logger *zap.Logger, n *dom.Node, msg string) (bool, error) {
	if err := r.Page.Click(ctx, n); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn(msg, zap.Error(err))
		return false, nil
	}
	return true, nil
}
