// internal/sessionstore/store.go
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/telemetry-sync/internal/browser"
	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/files"
)

// Site keys.
const (
	Salesforce = "salesforce"
	SharePoint = "sharepoint"
	Workspace  = "workspace"
)

// Sites lists every site that keeps a session.
var Sites = []string{Salesforce, SharePoint, Workspace}

// ErrCorruptCookies is returned by Load when the cookie file exists but does
// not decode. The run cannot continue with a half-restored identity.
var ErrCorruptCookies = errors.New("stored cookies are corrupt")

// storageDumpScript serializes both storage areas of the current origin.
const storageDumpScript = `(() => {
	const dump = (area) => {
		const out = {};
		try {
			for (let i = 0; i < area.length; i++) {
				const key = area.key(i);
				out[key] = area.getItem(key);
			}
		} catch (e) {}
		return out;
	};
	return JSON.stringify({ localStorage: dump(window.localStorage), sessionStorage: dump(window.sessionStorage) });
})()`

// Paths locates the files that belong to one site.
type Paths struct {
	Dir     string
	Cookies string
	Storage string
	Profile string
}

// Store persists Session Records under the configured session directory.
type Store struct {
	sessionDir  string
	profileRoot string
	logger      *zap.Logger
}

// New creates a Store rooted at the configured paths.
func New(cfg config.PathsConfig, logger *zap.Logger) *Store {
	return &Store{
		sessionDir:  cfg.SessionDir,
		profileRoot: cfg.ProfileRoot,
		logger:      logger.Named("sessionstore"),
	}
}

// Paths returns where site's record and browser profile live.
func (s *Store) Paths(site string) Paths {
	dir := filepath.Join(s.sessionDir, site)
	return Paths{
		Dir:     dir,
		Cookies: filepath.Join(dir, "cookies_"+site+".json"),
		Storage: filepath.Join(dir, "storage_"+site+".json"),
		Profile: filepath.Join(s.profileRoot, "user-data-"+site),
	}
}

// ProfileDir is the persistent Chrome user data directory for site.
func (s *Store) ProfileDir(site string) string {
	return s.Paths(site).Profile
}

// Save captures the cookies and storage the page currently holds. A cookie
// read or write failure is returned; a storage failure only logs.
func (s *Store) Save(ctx context.Context, site string, page browser.StateAccessor) error {
	p := s.Paths(site)
	logger := s.logger.With(zap.String("site", site))

	netCookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies for %s: %w", site, err)
	}
	cookies := make([]Cookie, 0, len(netCookies))
	for _, c := range netCookies {
		cookies = append(cookies, cookieFromNetwork(c))
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if err := files.WriteAtomic(p.Cookies, data, 0o600); err != nil {
		return err
	}
	logger.Info("Cookies saved.", zap.Int("count", len(cookies)), zap.String("path", p.Cookies))

	var raw string
	if err := page.Evaluate(ctx, storageDumpScript, &raw); err != nil {
		logger.Warn("Could not read web storage; it will not be restored.", zap.Error(err))
		return nil
	}
	var st Storage
	if err := json.UnmarshalFromString(raw, &st); err != nil {
		logger.Warn("Web storage dump did not decode.", zap.Error(err))
		return nil
	}
	data, err = json.MarshalIndent(st, "", "  ")
	if err == nil {
		err = files.WriteAtomic(p.Storage, data, 0o600)
	}
	if err != nil {
		logger.Warn("Could not write web storage.", zap.Error(err))
		return nil
	}
	logger.Info("Web storage saved.",
		zap.Int("local", len(st.LocalStorage)),
		zap.Int("session", len(st.SessionStorage)),
	)
	return nil
}

// Load reads the stored record for site. It returns (nil, nil) when nothing
// is stored, and an error wrapping ErrCorruptCookies when the cookie file
// cannot be decoded. A broken storage file is logged and skipped.
func (s *Store) Load(site string) (*Record, error) {
	p := s.Paths(site)
	logger := s.logger.With(zap.String("site", site))
	var rec Record
	found := false

	if data, err := os.ReadFile(p.Storage); err == nil {
		var st Storage
		if err := json.Unmarshal(data, &st); err != nil {
			logger.Warn("Stored web storage is unreadable; skipping it.", zap.Error(err))
		} else {
			rec.Storage = &st
			found = true
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Could not read stored web storage.", zap.Error(err))
	}

	data, err := os.ReadFile(p.Cookies)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &rec.Cookies); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCookies, p.Cookies, err)
		}
		found = true
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	if !found {
		return nil, nil
	}
	local, session := 0, 0
	if rec.Storage != nil {
		local, session = len(rec.Storage.LocalStorage), len(rec.Storage.SessionStorage)
	}
	logger.Info("Session loaded.",
		zap.Int("cookies", len(rec.Cookies)),
		zap.Int("local", local),
		zap.Int("session", session),
	)
	return &rec, nil
}

// Apply seeds a page before its first navigation: storage through an init
// script that runs ahead of the site's own scripts, cookies through the
// browser's cookie API.
func (s *Store) Apply(ctx context.Context, page browser.StateAccessor, rec *Record) error {
	if rec.Empty() {
		return nil
	}
	if !rec.Storage.Empty() {
		script, err := storageRestoreScript(rec.Storage)
		if err != nil {
			return err
		}
		if err := page.AddInitScript(ctx, script); err != nil {
			return fmt.Errorf("failed to register storage restore: %w", err)
		}
	}
	if err := page.SetCookies(ctx, cookieParams(rec.Cookies)); err != nil {
		return err
	}
	return nil
}

// ApplyStorage writes the stored storage into the live page. It backs up the
// init script for pages that wiped storage during their own boot.
func (s *Store) ApplyStorage(ctx context.Context, page browser.StateAccessor, rec *Record) bool {
	if rec == nil || rec.Storage.Empty() {
		return false
	}
	script, err := storageRestoreScript(rec.Storage)
	if err == nil {
		err = page.Evaluate(ctx, script, nil)
	}
	if err != nil {
		s.logger.Warn("Could not apply stored web storage to the page.", zap.Error(err))
		return false
	}
	s.logger.Debug("Stored web storage applied to the page.")
	return true
}

// storageRestoreScript sets every stored key, ignoring per-key failures.
func storageRestoreScript(st *Storage) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to encode storage: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const data = %s;
	const restore = (area, values) => {
		for (const [key, value] of Object.entries(values || {})) {
			try { area.setItem(key, value); } catch (e) {}
		}
	};
	try { restore(window.localStorage, data.localStorage); } catch (e) {}
	try { restore(window.sessionStorage, data.sessionStorage); } catch (e) {}
	return true;
})()`, data), nil
}

// Clear removes the stored record and the browser profile of site, so the
// next run starts cold.
func (s *Store) Clear(site string) error {
	p := s.Paths(site)
	var errs []error
	for _, f := range []string{p.Cookies, p.Storage} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(p.Profile); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clear %s session: %w", site, err)
	}
	s.logger.Info("Session cleared.", zap.String("site", site), zap.String("profile", p.Profile))
	return nil
}

// ClearAll clears every given site concurrently. Sites not yet started when
// ctx ends, or when another site fails, are left as they are.
func (s *Store) ClearAll(ctx context.Context, sites ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, site := range sites {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.Clear(site)
		})
	}
	return g.Wait()
}
