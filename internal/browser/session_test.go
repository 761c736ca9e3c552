// internal/browser/session_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

const testPage = `<!DOCTYPE html>
<html><body>
  <div id="panel" style="height:100px; overflow-y:scroll">
    <div style="height:2000px">tall</div>
  </div>
  <input name="username">
  <button onclick="this.textContent='clicked'">Descargar</button>
</body></html>`

// findChrome returns the first Chrome-like binary on PATH, or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found on PATH")
	return ""
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	execPath := findChrome(t)

	cfg := config.NewDefaultConfig()
	bcfg := cfg.Browser()
	bcfg.Headless = true
	bcfg.ExecPath = execPath

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	s, err := Launch(ctx, bcfg, cfg.Timing(), Options{ProfileDir: t.TempDir(), DownloadDir: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = s.Close(closeCtx)
	})
	return s
}

func TestSessionIntegration(t *testing.T) {
	s := newTestSession(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	tab := s.Tab()
	require.NoError(t, tab.Navigate(ctx, srv.URL))

	url, err := tab.URL(ctx)
	require.NoError(t, err)
	assert.Contains(t, url, srv.URL)

	state, err := tab.ReadyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "complete", state)

	tree, err := tab.Snapshot(ctx)
	require.NoError(t, err)

	t.Run("click", func(t *testing.T) {
		btn := tree.First(dom.AllOf(dom.Tag("button"), dom.TextContains("descargar")))
		require.NotNil(t, btn)
		require.NoError(t, tab.Click(ctx, btn))

		var text string
		require.NoError(t, tab.Evaluate(ctx, `document.querySelector('button').textContent`, &text))
		assert.Equal(t, "clicked", text)
	})

	t.Run("fill", func(t *testing.T) {
		input := tree.First(dom.Attr("name", "username"))
		require.NotNil(t, input)
		require.NoError(t, tab.Fill(ctx, input, "ops@example.com"))

		var value string
		require.NoError(t, tab.Evaluate(ctx, `document.querySelector('input').value`, &value))
		assert.Equal(t, "ops@example.com", value)
	})

	t.Run("scroll", func(t *testing.T) {
		panel := tree.First(dom.Attr("id", "panel"))
		require.NotNil(t, panel)
		assert.True(t, panel.Scrollable())

		m, err := tab.ScrollBy(ctx, panel, 400)
		require.NoError(t, err)
		assert.Equal(t, float64(400), m.ScrollTop)

		m, err = tab.ScrollTo(ctx, panel, m.ScrollHeight)
		require.NoError(t, err)
		assert.True(t, m.AtBottom(5))
	})

	t.Run("stale ref", func(t *testing.T) {
		err := tab.Fill(ctx, &dom.Node{Ref: "999.999", Frame: 1}, "x")
		assert.ErrorIs(t, err, ErrStaleNode)
	})

	t.Run("cookies", func(t *testing.T) {
		err := tab.SetCookies(ctx, []*network.CookieParam{{Name: "sid", Value: "abc", URL: srv.URL}})
		require.NoError(t, err)

		cookies, err := tab.Cookies(ctx)
		require.NoError(t, err)
		var found bool
		for _, c := range cookies {
			if c.Name == "sid" && c.Value == "abc" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("persona", func(t *testing.T) {
		var webdriver bool
		require.NoError(t, tab.Evaluate(ctx, `navigator.webdriver === true`, &webdriver))
		assert.False(t, webdriver)

		var lang string
		require.NoError(t, tab.Evaluate(ctx, `navigator.language`, &lang))
		assert.Equal(t, "es-ES", lang)
	})

	t.Run("popups", func(t *testing.T) {
		popups, err := s.Popups(ctx)
		require.NoError(t, err)
		assert.Empty(t, popups)

		var opened bool
		require.NoError(t, tab.Evaluate(ctx, `(window.open(location.href, "_blank"), true)`, &opened))
		require.Eventually(t, func() bool {
			popups, err = s.Popups(ctx)
			return err == nil && len(popups) == 1
		}, 10*time.Second, 100*time.Millisecond)

		// The persona applies from the popup's next document on.
		popup := popups[0]
		require.NoError(t, popup.Navigate(ctx, srv.URL))

		var webdriver bool
		require.NoError(t, popup.Evaluate(ctx, `navigator.webdriver === true`, &webdriver))
		assert.False(t, webdriver)

		var lang string
		require.NoError(t, popup.Evaluate(ctx, `navigator.language`, &lang))
		assert.Equal(t, "es-ES", lang)
	})
}
