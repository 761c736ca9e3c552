// internal/browser/interface.go
package browser

import (
	"context"

	"github.com/chromedp/cdproto/network"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
)

// Interactor acts on elements found in a snapshot.
type Interactor interface {
	// Snapshot serializes the current document and its same-origin frames.
	Snapshot(ctx context.Context) (*dom.Tree, error)
	Click(ctx context.Context, n *dom.Node) error
	// Type sends real keystrokes to n.
	Type(ctx context.Context, n *dom.Node, text string) error
	// Fill sets the value of n directly and fires input events.
	Fill(ctx context.Context, n *dom.Node, text string) error
	ScrollBy(ctx context.Context, n *dom.Node, dy float64) (dom.ScrollMetrics, error)
	ScrollTo(ctx context.Context, n *dom.Node, top float64) (dom.ScrollMetrics, error)
}

// StateAccessor reads and seeds the credentials a page carries.
type StateAccessor interface {
	// Evaluate runs a JavaScript expression, awaiting promises, and decodes
	// the result into res (which may be nil).
	Evaluate(ctx context.Context, expression string, res interface{}) error
	// AddInitScript registers a script that runs in every new document before
	// any of the page's own scripts.
	AddInitScript(ctx context.Context, script string) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
}

// Page is one browser tab.
type Page interface {
	Interactor
	StateAccessor
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	// WaitForNetworkIdle runs trigger (which may be nil) and then waits until
	// the main frame reports the network almost idle, or ctx ends.
	WaitForNetworkIdle(ctx context.Context, trigger func(context.Context) error) error
}

// WindowSource lists the extra windows a page has opened, newest first.
type WindowSource interface {
	Popups(ctx context.Context) ([]Page, error)
}
