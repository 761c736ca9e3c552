package workspace

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/mocks"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

const (
	kpisURL = "https://app.powerbi.com/groups/kpis/datasets/1"

	workspaceHTML = `<body><nav><button data-testid="refresh-button" title="Actualizar">Actualizar</button></nav></body>`
	dropdownHTML  = `<body><div class="dropDown-menu">
		<span class="dropDown-displayName">Programar actualización</span>
		<span class="dropDown-displayName">Actualizar ahora</span>
	</div></body>`
	emailHTML    = `<body><input type="email" name="loginfmt"><button>Next</button></body>`
	passwordHTML = `<body><input type="password" name="passwd"><button>Sign in</button></body>`
)

func testTiming() config.TimingConfig {
	return config.TimingConfig{
		Short:           time.Millisecond,
		Medium:          time.Millisecond,
		Long:            time.Millisecond,
		ManualLogin:     5 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		LoginNavigation: 50 * time.Millisecond,
		RefreshControl:  60 * time.Millisecond,
	}
}

type fixture struct {
	page  *mocks.FakePage
	store *sessionstore.Store
	cfg   *mocks.MockConfig
}

func newFixture(t *testing.T, landing string) *fixture {
	t.Helper()
	root := t.TempDir()
	store := sessionstore.New(config.PathsConfig{
		SessionDir:  filepath.Join(root, "session-data"),
		ProfileRoot: root,
	}, zaptest.NewLogger(t))

	cfg := new(mocks.MockConfig)
	cfg.On("Timing").Return(testTiming())
	cfg.On("Workspace").Return(config.WorkspaceConfig{
		User:     "ana@example.com",
		Password: "s3cret",
		URLs: map[string]string{
			"kpis":  kpisURL,
			"other": "https://app.powerbi.com/home",
		},
	})

	page := mocks.NewFakePage(`<body></body>`)
	page.OnNavigate = func(p *mocks.FakePage, url string) { p.SetHTML(landing) }
	page.OnClick = func(p *mocks.FakePage, n *dom.Node) {
		switch {
		case n.Attr("data-testid") == "refresh-button":
			p.SetHTML(dropdownHTML)
		case strings.TrimSpace(n.Text()) == "Next":
			p.SetHTML(passwordHTML)
		case strings.TrimSpace(n.Text()) == "Sign in":
			p.SetHTML(workspaceHTML)
		}
	}
	return &fixture{page: page, store: store, cfg: cfg}
}

func (f *fixture) refresher(t *testing.T) *Refresher {
	return &Refresher{Page: f.page, Store: f.store, Config: f.cfg, Logger: zaptest.NewLogger(t)}
}

func TestRefresherRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should refresh with a stored session", func(t *testing.T) {
		f := newFixture(t, workspaceHTML)

		res, err := f.refresher(t).Run(ctx, "KPIS")
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.True(t, res.Refreshed)
		assert.Equal(t, "kpis", res.Workspace)
		assert.Equal(t, []string{"Actualizar", "Actualizar ahora"}, f.page.Clicked())
		assert.Empty(t, f.page.ActionsOf("type"))
		assert.FileExists(t, f.store.Paths(sessionstore.Workspace).Cookies)
		f.cfg.AssertExpectations(t)
	})

	t.Run("should sign in through both phases first", func(t *testing.T) {
		f := newFixture(t, emailHTML)

		res, err := f.refresher(t).Run(ctx, "kpis")
		require.NoError(t, err)
		assert.True(t, res.Refreshed)

		typed := f.page.ActionsOf("type")
		require.Len(t, typed, 2)
		assert.Equal(t, "ana@example.com", typed[0].Value)
		assert.Equal(t, "s3cret", typed[1].Value)
		assert.Equal(t, []string{"Next", "Sign in", "Actualizar", "Actualizar ahora"}, f.page.Clicked())
	})

	t.Run("should not save when the workspace is not reached", func(t *testing.T) {
		f := newFixture(t, workspaceHTML)
		f.page.OnNavigate = func(p *mocks.FakePage, url string) {
			p.SetHTML(emailHTML)
		}
		f.page.OnClick = nil
		f.cfg = new(mocks.MockConfig)
		f.cfg.On("Timing").Return(testTiming())
		f.cfg.On("Workspace").Return(config.WorkspaceConfig{
			User: "ana@example.com",
			URLs: map[string]string{"other": "https://login.example.com/authorize"},
		})

		res, err := f.refresher(t).Run(ctx, "defensa-nueva")
		require.NoError(t, err)
		assert.False(t, res.Authenticated)
		assert.False(t, res.Refreshed)
		assert.NoFileExists(t, f.store.Paths(sessionstore.Workspace).Cookies)
	})

	t.Run("should report a missing refresh control", func(t *testing.T) {
		f := newFixture(t, `<body><h1>Área de trabajo</h1></body>`)

		res, err := f.refresher(t).Run(ctx, "kpis")
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.False(t, res.Refreshed)
		assert.Empty(t, f.page.Clicked())
		assert.FileExists(t, f.store.Paths(sessionstore.Workspace).Cookies, "the session is still worth keeping")
	})

	t.Run("should report a missing refresh now option", func(t *testing.T) {
		f := newFixture(t, workspaceHTML)
		f.page.OnClick = func(p *mocks.FakePage, n *dom.Node) {
			p.SetHTML(`<body><span class="dropDown-displayName">Programar actualización</span></body>`)
		}

		res, err := f.refresher(t).Run(ctx, "kpis")
		require.NoError(t, err)
		assert.False(t, res.Refreshed)
		assert.Equal(t, []string{"Actualizar"}, f.page.Clicked())
	})

	t.Run("setup should wait for the browser to close without refreshing", func(t *testing.T) {
		f := newFixture(t, workspaceHTML)
		r := f.refresher(t)
		waited := false
		r.WaitForClose = func(context.Context) error {
			waited = true
			return nil
		}

		res, err := r.Run(ctx, Setup)
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.False(t, res.Refreshed)
		assert.True(t, waited)
		assert.Empty(t, f.page.Clicked())
		assert.Equal(t, "https://app.powerbi.com/home", f.page.ActionsOf("navigate")[0].Value)
	})

	t.Run("should fail without a URL", func(t *testing.T) {
		f := newFixture(t, workspaceHTML)
		f.cfg = new(mocks.MockConfig)
		f.cfg.On("Timing").Return(testTiming())
		f.cfg.On("Workspace").Return(config.WorkspaceConfig{})

		_, err := f.refresher(t).Run(ctx, "sectores")
		assert.ErrorIs(t, err, ErrNoURL)
		assert.Empty(t, f.page.Actions())
	})
}

func TestFindRefreshControls(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"test id", `<div data-testid="refresh-button"></div>`, true},
		{"aria label", `<button aria-label="Actualizar conjunto de datos"></button>`, true},
		{"title", `<button title="ACTUALIZAR"></button>`, true},
		{"label on a non button", `<div aria-label="Actualizar"></div>`, false},
		{"unrelated", `<button title="Compartir"></button>`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FindRefreshButton(dom.MustFromHTML(tc.html))
			assert.Equal(t, tc.want, got != nil)
		})
	}

	tree := dom.MustFromHTML(`<ul><span class="dropDown-item">Refresh now</span></ul>`)
	assert.NotNil(t, FindRefreshNow(tree))
	assert.Nil(t, FindRefreshNow(dom.MustFromHTML(`<button>Refresh now</button>`)))
}
