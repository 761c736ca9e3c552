// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Paths() config.PathsConfig {
	return m.Called().Get(0).(config.PathsConfig)
}

func (m *MockConfig) Timing() config.TimingConfig {
	return m.Called().Get(0).(config.TimingConfig)
}

func (m *MockConfig) Salesforce() config.SalesforceConfig {
	return m.Called().Get(0).(config.SalesforceConfig)
}

func (m *MockConfig) SharePoint() config.SharePointConfig {
	return m.Called().Get(0).(config.SharePointConfig)
}

func (m *MockConfig) Workspace() config.WorkspaceConfig {
	return m.Called().Get(0).(config.WorkspaceConfig)
}

func (m *MockConfig) Pipeline() config.PipelineConfig {
	return m.Called().Get(0).(config.PipelineConfig)
}

func (m *MockConfig) Require(keys ...string) error {
	return m.Called(keys).Error(0)
}

// -- State Accessor Mock --

// MockStateAccessor mocks browser.StateAccessor.
type MockStateAccessor struct {
	mock.Mock
}

var _ browser.StateAccessor = (*MockStateAccessor)(nil)

func (m *MockStateAccessor) Evaluate(ctx context.Context, expression string, res interface{}) error {
	args := m.Called(ctx, expression, res)
	return args.Error(0)
}

func (m *MockStateAccessor) AddInitScript(ctx context.Context, script string) error {
	return m.Called(ctx, script).Error(0)
}

func (m *MockStateAccessor) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	args := m.Called(ctx)
	var cookies []*network.Cookie
	if v := args.Get(0); v != nil {
		cookies = v.([]*network.Cookie)
	}
	return cookies, args.Error(1)
}

func (m *MockStateAccessor) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	return m.Called(ctx, cookies).Error(0)
}

// -- Fake Page --

// Action is one recorded interaction with a FakePage.
type Action struct {
	Kind  string // "click", "type", "fill", "scroll", "navigate"
	Ref   string
	Label string // the node's text at the time of the action
	Value string
	Top   float64
}

// FakePage is an in-memory browser.Page backed by a dom.Tree. Actions are
// recorded; hooks let a test change the document in response.
type FakePage struct {
	mu      sync.Mutex
	tree    *dom.Tree
	url     string
	ready   string
	actions []Action
	cookies []*network.Cookie
	scripts []string

	// OnClick runs after a click is recorded, outside the lock.
	OnClick func(p *FakePage, n *dom.Node)
	// OnNavigate runs after a navigation is recorded.
	OnNavigate func(p *FakePage, url string)
	// OnIdle runs when WaitForNetworkIdle is asked to wait; a non-nil result
	// is returned to the caller.
	OnIdle func(p *FakePage) error
	// OnEvaluate answers Evaluate calls. Nil leaves res untouched.
	OnEvaluate func(expression string, res interface{}) error
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage parses src as the initial document.
func NewFakePage(src string) *FakePage {
	return &FakePage{tree: dom.MustFromHTML(src), ready: "complete", url: "about:blank"}
}

// SetHTML replaces the current document.
func (p *FakePage) SetHTML(src string) {
	tree := dom.MustFromHTML(src)
	p.mu.Lock()
	p.tree = tree
	p.mu.Unlock()
}

// SetReadyState sets the value ReadyState reports.
func (p *FakePage) SetReadyState(s string) {
	p.mu.Lock()
	p.ready = s
	p.mu.Unlock()
}

// Actions returns a copy of everything recorded so far.
func (p *FakePage) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// ActionsOf filters recorded actions by kind.
func (p *FakePage) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Clicked returns the labels of every clicked node, in order.
func (p *FakePage) Clicked() []string {
	var out []string
	for _, a := range p.ActionsOf("click") {
		out = append(out, a.Label)
	}
	return out
}

// InitScripts returns every script registered with AddInitScript.
func (p *FakePage) InitScripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

func (p *FakePage) record(a Action) {
	p.mu.Lock()
	p.actions = append(p.actions, a)
	p.mu.Unlock()
}

// live resolves n against the current tree so stale nodes are detected.
func (p *FakePage) live(n *dom.Node) (*dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.tree.Lookup(n.Ref)
	if cur == nil || cur.Tag != n.Tag {
		return nil, browser.ErrStaleNode
	}
	return cur, nil
}

func (p *FakePage) Snapshot(ctx context.Context) (*dom.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree, nil
}

func (p *FakePage) Click(ctx context.Context, n *dom.Node) error {
	cur, err := p.live(n)
	if err != nil {
		return err
	}
	p.record(Action{Kind: "click", Ref: cur.Ref, Label: strings.TrimSpace(cur.Text())})
	if p.OnClick != nil {
		p.OnClick(p, cur)
	}
	return nil
}

func (p *FakePage) Type(ctx context.Context, n *dom.Node, text string) error {
	return p.setValue(n, "type", text)
}

func (p *FakePage) Fill(ctx context.Context, n *dom.Node, text string) error {
	return p.setValue(n, "fill", text)
}

func (p *FakePage) setValue(n *dom.Node, kind, text string) error {
	cur, err := p.live(n)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if cur.Attrs == nil {
		cur.Attrs = map[string]string{}
	}
	cur.Attrs["value"] = text
	p.mu.Unlock()
	p.record(Action{Kind: kind, Ref: cur.Ref, Label: cur.Attr("name"), Value: text})
	return nil
}

func (p *FakePage) ScrollBy(ctx context.Context, n *dom.Node, dy float64) (dom.ScrollMetrics, error) {
	return p.scroll(n, dy, true)
}

func (p *FakePage) ScrollTo(ctx context.Context, n *dom.Node, top float64) (dom.ScrollMetrics, error) {
	return p.scroll(n, top, false)
}

func (p *FakePage) scroll(n *dom.Node, v float64, relative bool) (dom.ScrollMetrics, error) {
	cur, err := p.live(n)
	if err != nil {
		return dom.ScrollMetrics{}, err
	}
	p.mu.Lock()
	top := v
	if relative {
		top = cur.ScrollTop + v
	}
	if limit := cur.ScrollHeight - cur.ClientHeight; top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	cur.ScrollTop = top
	m := cur.Metrics()
	p.mu.Unlock()
	p.record(Action{Kind: "scroll", Ref: cur.Ref, Top: top})
	return m, nil
}

func (p *FakePage) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if p.OnEvaluate != nil {
		return p.OnEvaluate(expression, res)
	}
	return nil
}

func (p *FakePage) AddInitScript(ctx context.Context, script string) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*network.Cookie(nil), p.cookies...), nil
}

func (p *FakePage) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		p.cookies = append(p.cookies, &network.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		})
	}
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.record(Action{Kind: "navigate", Value: url})
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) ReadyState(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready, nil
}

func (p *FakePage) WaitForNetworkIdle(ctx context.Context, trigger func(context.Context) error) error {
	if trigger != nil {
		if err := trigger(ctx); err != nil {
			return err
		}
	}
	if p.OnIdle != nil {
		return p.OnIdle(p)
	}
	return ctx.Err()
}

// -- Fake Window Source --

// FakeWindows is a browser.WindowSource whose popups appear after a number
// of polls.
type FakeWindows struct {
	mu    sync.Mutex
	calls int
	// AppearAfter is how many Popups calls return nothing before Pages show up.
	AppearAfter int
	// Pages are returned newest first once they appear.
	Pages []browser.Page
}

var _ browser.WindowSource = (*FakeWindows)(nil)

func (w *FakeWindows) Popups(ctx context.Context) ([]browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.AppearAfter {
		return nil, nil
	}
	return append([]browser.Page(nil), w.Pages...), nil
}

// Calls reports how many times Popups was polled.
func (w *FakeWindows) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
