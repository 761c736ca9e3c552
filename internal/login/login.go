// internal/login/login.go
package login

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// Credentials are the values typed into a login form.
type Credentials struct {
	User     string
	Password string
}

// waits are the fixed pauses of the login flows that are not configurable.
type waits struct {
	field      time.Duration // login field wait
	fieldPoll  time.Duration
	appearPoll time.Duration // while waiting for the first window
	poll       time.Duration // between checks for a new window
	ready      time.Duration // document.readyState wait per popup
	settle     time.Duration
	inputWait  time.Duration
	attempts   int
	attemptGap time.Duration
	gap        time.Duration // between two popups
}

var defaultWaits = waits{
	field:      5 * time.Second,
	fieldPoll:  250 * time.Millisecond,
	appearPoll: 250 * time.Millisecond,
	poll:       400 * time.Millisecond,
	ready:      10 * time.Second,
	settle:     500 * time.Millisecond,
	inputWait:  7 * time.Second,
	attempts:   5,
	attemptGap: time.Second,
	gap:        2 * time.Second,
}

// Filler detects login forms and fills them with configured credentials.
type Filler struct {
	page   browser.Page
	nav    *navigator.Navigator
	timing config.TimingConfig
	waits  waits
	logger *zap.Logger
}

// New creates a Filler operating on page.
func New(page browser.Page, timing config.TimingConfig, logger *zap.Logger) *Filler {
	logger = logger.Named("login")
	return &Filler{
		page:   page,
		nav:    navigator.New(page, timing, logger),
		timing: timing,
		waits:  defaultWaits,
		logger: logger,
	}
}

// NeedsLogin snapshots the page and checks it against profile.
func (f *Filler) NeedsLogin(ctx context.Context, profile Profile) (bool, error) {
	tree, err := f.page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return profile.NeedsLogin(tree), nil
}

// AutoLogin types the user into the analytics login form and submits it.
func (f *Filler) AutoLogin(ctx context.Context, user string) (bool, error) {
	return f.Login(ctx, Analytics, Credentials{User: user})
}

// Login fills and submits profile's form. A form that cannot be completed is
// logged and reported as false; only a canceled context is an error. The
// password phase runs only for profiles that have one and when a password is
// configured.
func (f *Filler) Login(ctx context.Context, profile Profile, creds Credentials) (bool, error) {
	logger := f.logger.With(zap.String("profile", profile.Name))
	logger.Info("Login required; filling the form.")

	field, err := f.nav.WaitForNode(ctx, f.waits.fieldPoll, f.waits.field, func(tree *dom.Tree) *dom.Node {
		return tree.First(profile.Identifier)
	})
	if err != nil {
		return false, f.soften(ctx, logger, "Login field did not appear.", err)
	}
	if err := f.page.Type(ctx, field, creds.User); err != nil {
		return false, f.soften(ctx, logger, "Could not type the user.", err)
	}
	logger.Info("User entered.", zap.String("user", creds.User))

	if err := f.nav.Pause(ctx, f.timing.Short); err != nil {
		return false, err
	}
	if _, err := f.submit(ctx, logger, profile.Submit); err != nil {
		return false, err
	}

	if profile.Password == nil || creds.Password == "" {
		return true, nil
	}
	if err := f.nav.Pause(ctx, 2*f.timing.Short); err != nil {
		return false, err
	}
	tree, err := f.page.Snapshot(ctx)
	if err != nil {
		return false, f.soften(ctx, logger, "Could not read the password page.", err)
	}
	pw := tree.First(profile.Password)
	if pw == nil {
		logger.Info("No password field shown; continuing.")
		return true, nil
	}
	if err := f.page.Type(ctx, pw, creds.Password); err != nil {
		return false, f.soften(ctx, logger, "Could not type the password.", err)
	}
	logger.Info("Password entered.")
	if err := f.nav.Pause(ctx, f.timing.Short); err != nil {
		return false, err
	}
	if _, err := f.submit(ctx, logger, profile.PasswordSubmit); err != nil {
		return false, err
	}
	return true, nil
}

// submit clicks the first button matching target and waits for the
// resulting navigation to settle. A navigation that never goes idle is not a
// failure: the app is often usable before that.
func (f *Filler) submit(ctx context.Context, logger *zap.Logger, target dom.Target) (bool, error) {
	tree, err := f.page.Snapshot(ctx)
	if err != nil {
		return false, f.soften(ctx, logger, "Could not read the login page.", err)
	}
	button := target.First(tree)
	if button == nil {
		logger.Warn("Submit button not found.", zap.String("button", target.Name))
		return false, nil
	}

	navCtx, cancel := context.WithTimeout(ctx, f.timing.LoginNavigation)
	defer cancel()
	err = f.page.WaitForNetworkIdle(navCtx, func(c context.Context) error {
		return f.page.Click(c, button)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("Navigation after submit timed out; continuing.", zap.Duration("timeout", f.timing.LoginNavigation))
	default:
		return false, f.soften(ctx, logger, "Could not submit the login form.", err)
	}
	logger.Info("Login form submitted.", zap.String("button", target.Name))
	return true, nil
}

// AwaitManual gives a human window to finish interactive authentication.
func (f *Filler) AwaitManual(ctx context.Context, window time.Duration) error {
	f.logger.Warn("Authentication required. Complete the login in the browser window.",
		zap.Duration("window", window))
	if err := f.nav.Pause(ctx, window); err != nil {
		return err
	}
	f.logger.Info("Manual login window elapsed; continuing.")
	return nil
}

// soften logs a page failure and drops it unless ctx is done.
func (f *Filler) soften(ctx context.Context, logger *zap.Logger, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, poll.ErrTimeout) {
		logger.Warn(msg)
		return nil
	}
	logger.Warn(msg, zap.Error(err))
	return nil
}
