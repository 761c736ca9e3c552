// internal/login/popup.go
package login

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// maxPopups bounds how many identity provider windows get handled.
const maxPopups = 2

// PopupLogin re-enters the user in identity provider windows that open
// outside the main page. It waits for a window to appear, then handles up to
// two of them, newest first. It returns how many windows were filled.
func (f *Filler) PopupLogin(ctx context.Context, windows browser.WindowSource, user string) (int, error) {
	f.logger.Info("Checking for an additional login window.")

	appeared := func(pctx context.Context) (bool, error) {
		pages, err := windows.Popups(pctx)
		if err != nil {
			return false, pctx.Err()
		}
		return len(pages) > 0, nil
	}
	if err := poll.Until(ctx, f.waits.appearPoll, f.timing.PopupAppear, appeared); err != nil && !errors.Is(err, poll.ErrTimeout) {
		return 0, err
	}

	processed := make(map[browser.Page]bool)
	filled := 0
	deadline := time.Now().Add(f.timing.PopupDeadline)
	for len(processed) < maxPopups && time.Now().Before(deadline) {
		popup, err := f.nextPopup(ctx, windows, processed)
		if err != nil {
			return filled, err
		}
		if popup == nil {
			if err := poll.Pause(ctx, f.waits.poll); err != nil {
				return filled, err
			}
			continue
		}
		processed[popup] = true

		ok, err := f.fillPopup(ctx, popup, user)
		if err != nil {
			return filled, err
		}
		if ok {
			filled++
			f.logger.Info("User re-entered in the login window.")
		} else {
			f.logger.Info("No email field found in the login window.")
		}

		if len(processed) < maxPopups {
			f.logger.Debug("Waiting for the next login window to finish opening.")
			if err := poll.Pause(ctx, f.waits.gap); err != nil {
				return filled, err
			}
		}
	}

	if len(processed) == 0 {
		f.logger.Info("No new login window detected.")
	}
	return filled, nil
}

// nextPopup returns the newest window not yet handled.
func (f *Filler) nextPopup(ctx context.Context, windows browser.WindowSource, processed map[browser.Page]bool) (browser.Page, error) {
	pages, err := windows.Popups(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Debug("Could not list windows.", zap.Error(err))
		return nil, nil
	}
	for _, p := range pages {
		if !processed[p] {
			return p, nil
		}
	}
	return nil, nil
}

// fillPopup waits for the window's document, then tries a few times to fill
// its email field. Failures inside the window are logged, not returned.
func (f *Filler) fillPopup(ctx context.Context, popup browser.Page, user string) (bool, error) {
	complete := func(pctx context.Context) (bool, error) {
		state, err := popup.ReadyState(pctx)
		if err != nil {
			return false, pctx.Err()
		}
		return state == "complete", nil
	}
	if err := poll.Until(ctx, f.waits.fieldPoll, f.waits.ready, complete); err != nil && !errors.Is(err, poll.ErrTimeout) {
		return false, f.soften(ctx, f.logger, "Login window never finished loading.", err)
	}
	if err := poll.Pause(ctx, f.waits.settle); err != nil {
		return false, err
	}

	nav := navigator.New(popup, f.timing, f.logger)
	hasInput := func(tree *dom.Tree) bool { return tree.First(dom.Tag("input")) != nil }
	if err := nav.WaitFor(ctx, f.waits.fieldPoll, f.waits.inputWait, hasInput); err != nil && !errors.Is(err, poll.ErrTimeout) {
		return false, f.soften(ctx, f.logger, "Could not inspect the login window.", err)
	}

	for attempt := 0; attempt < f.waits.attempts; attempt++ {
		if attempt > 0 {
			if err := poll.Pause(ctx, f.waits.attemptGap); err != nil {
				return false, err
			}
		}
		tree, err := popup.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		field := FindEmailInput(tree)
		if field == nil {
			continue
		}
		if err := popup.Fill(ctx, field, user); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			f.logger.Debug("Fill attempt failed.", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return true, nil
	}
	return false, nil
}
