// internal/browser/context.go
package browser

import (
	"context"
)

// forOperation scopes a chromedp call on a tab to a caller's operation.
//
// chromedp finds its target through context values, so the result derives
// from tab and carries only tab's values. It ends when either the tab or op
// ends; when op ends first, context.Cause reports why. The returned cancel
// must be called to release the link to op.
func forOperation(tab, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(tab)
	stop := context.AfterFunc(op, func() {
		cancel(context.Cause(op))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach keeps ctx's values but drops its cancellation, so a canceled run can
// still save the session and close the browser.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
