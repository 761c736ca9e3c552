// internal/navigator/navigator.go
package navigator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

const (
	// menuPoll paces the short wait for a dropdown to open.
	menuPoll = 50 * time.Millisecond
	// scrollStep and scrollInterval pace the panel scroll animation.
	scrollStep     = 400
	scrollInterval = 200 * time.Millisecond
	// scrollLimit bounds the animation on panels that keep growing.
	scrollLimit = 2 * time.Minute
	// bottomSlack is how close to the end counts as the bottom.
	bottomSlack = 5
)

// Navigator finds and operates UI elements of a single-page app by heuristic
// matching. Every operation reports a miss as false rather than an error;
// errors are reserved for a dead page or a canceled context.
type Navigator struct {
	page   browser.Interactor
	timing config.TimingConfig
	logger *zap.Logger
}

// New creates a Navigator for page.
func New(page browser.Interactor, timing config.TimingConfig, logger *zap.Logger) *Navigator {
	return &Navigator{
		page:   page,
		timing: timing,
		logger: logger.Named("navigator"),
	}
}

// Timing exposes the configured waits to flows built on the navigator.
func (n *Navigator) Timing() config.TimingConfig { return n.timing }

// MenuSettle is how long an opened or scrolled menu gets to render.
func (n *Navigator) MenuSettle() time.Duration { return 2 * n.timing.Short }

// Pause sleeps for d unless ctx ends.
func (n *Navigator) Pause(ctx context.Context, d time.Duration) error {
	return poll.Pause(ctx, d)
}

// Snapshot captures the current document.
func (n *Navigator) Snapshot(ctx context.Context) (*dom.Tree, error) {
	return n.page.Snapshot(ctx)
}

// WaitFor polls the document until pred holds. Snapshot failures while the
// page is mid-navigation count as "not yet". It returns poll.ErrTimeout when
// the deadline passes.
func (n *Navigator) WaitFor(ctx context.Context, interval, timeout time.Duration, pred func(*dom.Tree) bool) error {
	return poll.Until(ctx, interval, timeout, func(pctx context.Context) (bool, error) {
		tree, err := n.page.Snapshot(pctx)
		if err != nil {
			if pctx.Err() != nil {
				return false, pctx.Err()
			}
			n.logger.Debug("Snapshot failed while waiting.", zap.Error(err))
			return false, nil
		}
		return pred(tree), nil
	})
}

// WaitForNode polls until find returns a node and returns it.
func (n *Navigator) WaitForNode(ctx context.Context, interval, timeout time.Duration, find func(*dom.Tree) *dom.Node) (*dom.Node, error) {
	var found *dom.Node
	err := n.WaitFor(ctx, interval, timeout, func(tree *dom.Tree) bool {
		found = find(tree)
		return found != nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// soft turns a timeout into a plain false and keeps real failures.
func soft(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, poll.ErrTimeout) {
		return false, nil
	}
	return false, err
}

// WaitForAnalyticsReady waits for the landmark text with no spinner present.
// A timeout is logged and reported as false; callers carry on regardless.
func (n *Navigator) WaitForAnalyticsReady(ctx context.Context) (bool, error) {
	n.logger.Info("Waiting for the analytics panel to finish loading.")
	ok, err := soft(n.WaitFor(ctx, n.timing.PollInterval, n.timing.AnalyticsReady, AnalyticsReady))
	if err != nil {
		return false, err
	}
	if ok {
		n.logger.Info("Analytics panel ready.")
	} else {
		n.logger.Warn("Analytics panel did not report ready before the timeout; continuing.",
			zap.Duration("timeout", n.timing.AnalyticsReady))
	}
	return ok, nil
}

// ClickButtonByText clicks the first button-like element whose text contains
// text.
func (n *Navigator) ClickButtonByText(ctx context.Context, text string) (bool, error) {
	logger := n.logger.With(zap.String("button", text))
	logger.Debug("Looking for button.")

	tree, err := n.page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	node := FindButtonByText(tree, text)
	if node == nil {
		logger.Warn("Button not found.")
		return false, nil
	}
	if err := n.page.Click(ctx, node); err != nil {
		return false, fmt.Errorf("failed to click %q: %w", text, err)
	}
	logger.Info("Button clicked.")
	return true, n.Pause(ctx, n.timing.Short)
}

// ClickMenuOption waits briefly for a menu to open, then clicks the first
// rendered option whose text, title or aria-label contains any of labels.
// On a miss the visible option labels are logged.
func (n *Navigator) ClickMenuOption(ctx context.Context, labels []string, logName string, wait time.Duration) (bool, error) {
	if logName == "" && len(labels) > 0 {
		logName = labels[0]
	}
	logger := n.logger.With(zap.String("option", logName))
	logger.Debug("Selecting menu option.", zap.Strings("labels", labels))

	if _, err := soft(n.WaitFor(ctx, menuPoll, n.timing.MenuAppear, MenuOpen)); err != nil {
		return false, err
	}

	tree, err := n.page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	node := FindMenuOption(tree, labels...)
	if node == nil {
		visible := VisibleMenuLabels(tree)
		summary := strings.Join(visible, " | ")
		if summary == "" {
			summary = "none"
		}
		logger.Warn("Menu option not found.", zap.Strings("visible", visible), zap.String("summary", summary))
		return false, nil
	}
	if err := n.page.Click(ctx, node); err != nil {
		return false, fmt.Errorf("failed to click option %q: %w", logName, err)
	}
	logger.Info("Menu option selected.")
	return true, n.Pause(ctx, wait)
}

// ScrollVisibleMenu scrolls the open dropdown to its end so options below the
// fold get rendered.
func (n *Navigator) ScrollVisibleMenu(ctx context.Context) (bool, error) {
	n.logger.Debug("Scrolling the open menu.")
	tree, err := n.page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	menu := FindScrollableMenu(tree)
	scrolled := false
	if menu == nil {
		n.logger.Info("No scrollable menu found.")
	} else if _, err := n.page.ScrollTo(ctx, menu, menu.ScrollHeight); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		n.logger.Warn("Could not scroll the menu.", zap.Error(err))
	} else {
		scrolled = true
	}
	return scrolled, n.Pause(ctx, n.MenuSettle())
}

// ScrollPanelToBottom scrolls the analytics panel to its end in fixed steps,
// then backs off so offset pixels of content remain below the viewport.
func (n *Navigator) ScrollPanelToBottom(ctx context.Context, offset float64) (bool, error) {
	n.logger.Info("Scrolling the analytics panel to the bottom.")
	tree, err := n.page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	container := FindScrollContainer(tree, 200)
	if container == nil {
		n.logger.Warn("No scrollable container found in the panel.")
		return false, n.Pause(ctx, n.timing.Long)
	}

	ok, err := n.ScrollToBottom(ctx, container, offset)
	if err != nil {
		return false, err
	}
	return ok, n.Pause(ctx, n.timing.Long)
}

// ScrollToBottom animates container down until its end is reached, then sets
// the final position offset pixels above the end.
func (n *Navigator) ScrollToBottom(ctx context.Context, container *dom.Node, offset float64) (bool, error) {
	var last dom.ScrollMetrics
	err := poll.Until(ctx, scrollInterval, scrollLimit, func(pctx context.Context) (bool, error) {
		m, err := n.page.ScrollBy(pctx, container, scrollStep)
		if err != nil {
			return false, err
		}
		last = m
		return m.AtBottom(bottomSlack), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		n.logger.Warn("Panel scroll did not reach the bottom.", zap.Error(err))
		return false, nil
	}

	final := math.Max(last.ScrollHeight-last.ClientHeight-offset, 0)
	if _, err := n.page.ScrollTo(ctx, container, final); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		n.logger.Warn("Could not set the final scroll position.", zap.Error(err))
		return false, nil
	}
	n.logger.Debug("Panel scrolled.", zap.Float64("scroll_top", final), zap.Float64("scroll_height", last.ScrollHeight))
	return true, nil
}
