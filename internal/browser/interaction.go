// internal/browser/interaction.go
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

// ErrStaleNode is returned when a node from an earlier snapshot is no longer
// in the document.
var ErrStaleNode = errors.New("element is no longer attached to the document")

// Tab drives one CDP page target.
type Tab struct {
	ctx    context.Context
	id     target.ID
	timing config.TimingConfig
	logger *zap.Logger
}

var _ Page = (*Tab)(nil)

func newTab(ctx context.Context, id target.ID, timing config.TimingConfig, logger *zap.Logger) (*Tab, error) {
	if err := enableLifecycle(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable lifecycle events: %w", err)
	}
	return &Tab{
		ctx:    ctx,
		id:     id,
		timing: timing,
		logger: logger.With(zap.String("target_id", string(id))),
	}, nil
}

// run executes actions against the tab, bounded by the caller's ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := forOperation(t.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the network to settle. A load that finishes
// but never goes quiet is accepted with a warning.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("Navigating.", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(ctx, t.timing.Navigation)
	defer cancel()

	var navErr error
	err := t.WaitForNetworkIdle(navCtx, func(c context.Context) error {
		navErr = chromedp.Run(c, chromedp.Navigate(url))
		return navErr
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("navigation canceled: %w", ctx.Err())
	case navErr != nil:
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", t.timing.Navigation, navErr)
		}
		return fmt.Errorf("navigation failed: %w", navErr)
	default:
		t.logger.Warn("Page loaded but the network never went idle.", zap.String("url", url))
		return nil
	}
}

// WaitForNetworkIdle implements Page.
func (t *Tab) WaitForNetworkIdle(ctx context.Context, trigger func(context.Context) error) error {
	runCtx, cancel := forOperation(t.ctx, ctx)
	defer cancel()

	// The listener lives as long as listenCtx.
	listenCtx, stopListening := context.WithCancel(runCtx)
	defer stopListening()

	idle := make(chan struct{}, 1)
	frameID := cdp.FrameID(t.id)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok || e.FrameID != frameID || e.Name != "networkAlmostIdle" {
			return
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	})

	if trigger != nil {
		if err := trigger(runCtx); err != nil {
			return err
		}
	}

	select {
	case <-idle:
		return nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return runCtx.Err()
	}
}

// Snapshot implements Interactor.
func (t *Tab) Snapshot(ctx context.Context) (*dom.Tree, error) {
	var raw string
	if err := t.run(ctx, chromedp.Evaluate(dom.SnapshotScript, &raw)); err != nil {
		return nil, fmt.Errorf("failed to snapshot document: %w", err)
	}
	return dom.Decode(raw)
}

// Click prefers a native mouse click for top-level elements and falls back to
// a scripted click, which is also the only option inside frames.
func (t *Tab) Click(ctx context.Context, n *dom.Node) error {
	if n.Frame == 0 {
		clickCtx, cancel := context.WithTimeout(ctx, t.timing.Medium)
		err := t.run(clickCtx,
			chromedp.ScrollIntoView(n.Selector(), chromedp.ByQuery),
			chromedp.Click(n.Selector(), chromedp.ByQuery, chromedp.NodeVisible),
		)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Debug("Native click failed; using scripted click.", zap.String("ref", n.Ref), zap.Error(err))
	}
	return t.script(ctx, dom.ClickScript(n.Ref))
}

// Type implements Interactor.
func (t *Tab) Type(ctx context.Context, n *dom.Node, text string) error {
	if n.Frame != 0 {
		return t.Fill(ctx, n, text)
	}
	err := t.run(ctx,
		chromedp.SetValue(n.Selector(), "", chromedp.ByQuery),
		chromedp.SendKeys(n.Selector(), text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %s: %w", n.Tag, err)
	}
	return nil
}

// Fill implements Interactor.
func (t *Tab) Fill(ctx context.Context, n *dom.Node, text string) error {
	return t.script(ctx, dom.FillScript(n.Ref, text))
}

// script evaluates a by-ref action that reports false when the node is gone.
func (t *Tab) script(ctx context.Context, js string) error {
	var ok bool
	if err := t.Evaluate(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return ErrStaleNode
	}
	return nil
}

// ScrollBy implements Interactor.
func (t *Tab) ScrollBy(ctx context.Context, n *dom.Node, dy float64) (dom.ScrollMetrics, error) {
	return t.scroll(ctx, dom.ScrollScript(n.Ref, dy, true))
}

// ScrollTo implements Interactor.
func (t *Tab) ScrollTo(ctx context.Context, n *dom.Node, top float64) (dom.ScrollMetrics, error) {
	return t.scroll(ctx, dom.ScrollScript(n.Ref, top, false))
}

func (t *Tab) scroll(ctx context.Context, js string) (dom.ScrollMetrics, error) {
	var res struct {
		dom.ScrollMetrics
		Missing bool `json:"missing"`
	}
	if err := t.Evaluate(ctx, js, &res); err != nil {
		return dom.ScrollMetrics{}, err
	}
	if res.Missing {
		return dom.ScrollMetrics{}, ErrStaleNode
	}
	return res.ScrollMetrics, nil
}

// Evaluate implements StateAccessor.
func (t *Tab) Evaluate(ctx context.Context, expression string, res interface{}) error {
	err := t.run(ctx, chromedp.Evaluate(expression, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// AddInitScript implements StateAccessor.
func (t *Tab) AddInitScript(ctx context.Context, script string) error {
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
}

// Cookies returns every cookie in the browser profile, not just the ones
// visible to the current URL.
func (t *Tab) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies implements StateAccessor.
func (t *Tab) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookies(cookies).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// URL implements Page.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// ReadyState implements Page.
func (t *Tab) ReadyState(ctx context.Context) (string, error) {
	var state string
	if err := t.Evaluate(ctx, "document.readyState", &state); err != nil {
		return "", err
	}
	return state, nil
}
