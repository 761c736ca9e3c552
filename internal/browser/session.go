// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/stealth"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/poll"
)

// Options are the per-run launch settings.
type Options struct {
	// ProfileDir is the persistent Chrome user data directory for the site.
	ProfileDir string
	// DownloadDir receives exported files. Empty leaves Chrome's default.
	DownloadDir string
	// Supervised places the window on screen instead of parking it off-screen.
	Supervised bool
}

// Session owns one Chrome process, its main tab and any popups it opens.
// A process drives exactly one Session.
type Session struct {
	id      string
	logger  *zap.Logger
	timing  config.TimingConfig
	persona stealth.Persona

	allocCancel context.CancelFunc
	ctx         context.Context // main tab; carries the CDP connection
	cancel      context.CancelFunc
	mainID      target.ID
	main        *Tab
	downloads   *DownloadTracker

	mu          sync.Mutex
	popupOrder  []target.ID
	popupTabs   map[target.ID]*Tab
	popupCancel []context.CancelFunc
	isClosed    bool
}

// allocatorOptions translates the application config into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig, opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(cfg.ExecPath))
	}
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}

	pos := cfg.HiddenPosition
	if opts.Supervised {
		pos = cfg.SupervisedPosition
	}
	allocOpts = append(allocOpts, chromedp.Flag("window-position", fmt.Sprintf("%d,%d", pos.X, pos.Y)))

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, ok := strings.Cut(arg, "="); ok {
			allocOpts = append(allocOpts, chromedp.Flag(key, value))
			continue
		}
		allocOpts = append(allocOpts, chromedp.Flag(arg, true))
	}
	return allocOpts
}

func personaFrom(cfg config.PersonaConfig) stealth.Persona {
	return stealth.Persona{
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
		Languages: cfg.Languages,
		Timezone:  cfg.Timezone,
	}
}

// Launch starts Chrome and attaches to its first tab. The browser lives until
// Close is called or ctx is canceled.
func Launch(ctx context.Context, cfg config.BrowserConfig, timing config.TimingConfig, opts Options, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()
	logger = logger.Named("browser").With(zap.String("session_id", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg, opts)...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &Session{
		id:          id,
		logger:      logger,
		timing:      timing,
		persona:     personaFrom(cfg.Persona),
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		downloads:   newDownloadTracker(logger),
		popupTabs:   make(map[target.ID]*Tab),
	}

	// 1. Start the process and attach to the initial tab.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	s.mainID = chromedp.FromContext(tabCtx).Target.TargetID

	// 2. Route downloads and subscribe to their progress. Events can arrive on
	// the tab or on the browser target depending on what started them.
	chromedp.ListenTarget(tabCtx, s.downloads.handle)
	chromedp.ListenBrowser(tabCtx, s.downloads.handle)
	if opts.DownloadDir != "" {
		err := chromedp.Run(tabCtx, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true))
		if err != nil {
			s.Close(context.Background())
			return nil, fmt.Errorf("failed to set download behavior: %w", err)
		}
	}

	main, err := s.attach(tabCtx, s.mainID, "tab")
	if err != nil {
		s.Close(context.Background())
		return nil, err
	}
	s.main = main

	logger.Info("Browser started.",
		zap.String("profile_dir", opts.ProfileDir),
		zap.Bool("supervised", opts.Supervised),
		zap.Bool("headless", cfg.Headless),
	)
	return s, nil
}

// attach installs the session persona on the target behind ctx and wraps it
// as a Tab. Popups get the same persona as the main tab; a login window that
// looks like a different browser is what bot checks flag.
func (s *Session) attach(ctx context.Context, id target.ID, name string) (*Tab, error) {
	if err := chromedp.Run(ctx, stealth.Apply(s.persona, s.logger)); err != nil {
		return nil, fmt.Errorf("failed to apply browser persona: %w", err)
	}
	return newTab(ctx, id, s.timing, s.logger.Named(name))
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Tab returns the main tab.
func (s *Session) Tab() *Tab { return s.main }

// Downloads exposes the download progress tracker.
func (s *Session) Downloads() *DownloadTracker { return s.downloads }

// Popups returns a Page for every other tab or window the browser has open,
// newest first. Tabs are attached on first sight and reused afterwards.
func (s *Session) Popups(ctx context.Context) ([]Page, error) {
	runCtx, cancel := forOperation(s.ctx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil, errors.New("session is closed")
	}

	alive := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type != "page" || info.TargetID == s.mainID {
			continue
		}
		alive[info.TargetID] = true
		if _, known := s.popupTabs[info.TargetID]; known {
			continue
		}
		popupCtx, popupCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(info.TargetID))
		tab, err := s.attach(popupCtx, info.TargetID, "popup")
		if err != nil {
			popupCancel()
			s.logger.Debug("Could not attach to popup.", zap.String("target_id", string(info.TargetID)), zap.Error(err))
			continue
		}
		s.popupTabs[info.TargetID] = tab
		s.popupOrder = append(s.popupOrder, info.TargetID)
		s.popupCancel = append(s.popupCancel, popupCancel)
		s.logger.Debug("Attached to popup.", zap.String("target_id", string(info.TargetID)), zap.String("url", info.URL))
	}

	pages := make([]Page, 0, len(alive))
	for i := len(s.popupOrder) - 1; i >= 0; i-- {
		if id := s.popupOrder[i]; alive[id] {
			pages = append(pages, s.popupTabs[id])
		}
	}
	return pages, nil
}

// WaitForClose blocks until the user closes the main window, the browser
// exits, or ctx ends.
func (s *Session) WaitForClose(ctx context.Context, timeout time.Duration) error {
	return poll.Until(ctx, time.Second, timeout, func(pctx context.Context) (bool, error) {
		if s.ctx.Err() != nil {
			return true, nil
		}
		runCtx, cancel := forOperation(s.ctx, pctx)
		defer cancel()
		infos, err := chromedp.Targets(runCtx)
		if err != nil {
			if pctx.Err() != nil {
				return false, pctx.Err()
			}
			return true, nil
		}
		for _, info := range infos {
			if info.TargetID == s.mainID {
				return false, nil
			}
		}
		return true, nil
	})
}

// Close shuts the browser down gracefully, bounded by ctx. It is safe to call
// more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	cancels := s.popupCancel
	s.popupCancel = nil
	s.mu.Unlock()

	defer s.allocCancel()

	for _, c := range cancels {
		c()
	}

	done := make(chan error, 1)
	go func() {
		// Canceling the first tab's context closes the whole browser.
		done <- chromedp.Cancel(s.ctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Error while closing browser.", zap.Error(err))
			return err
		}
		s.logger.Info("Browser closed.")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Browser close timed out; killing process.")
		return ctx.Err()
	}
}

// enableLifecycle turns on the lifecycle events WaitForNetworkIdle relies on.
func enableLifecycle(ctx context.Context) error {
	return chromedp.Run(ctx, page.SetLifecycleEventsEnabled(true))
}
