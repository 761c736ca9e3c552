// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// hideAutomation removes the webdriver flag some identity providers check
// before rendering the sign-in form.
const hideAutomation = `Object.defineProperty(Object.getPrototypeOf(navigator), 'webdriver', {get: () => undefined, configurable: true});`

// Persona is what the browser presents to the vendor sites. The label
// heuristics expect the Spanish UI, so the locale is pinned rather than
// inherited from the host.
type Persona struct {
	// UserAgent overrides Chrome's own when set.
	UserAgent string
	Locale    string
	Languages []string
	// Timezone is an IANA name; empty keeps the host's.
	Timezone string
}

// DefaultPersona matches the accounts the tool runs under.
var DefaultPersona = Persona{
	Locale:    "es-ES",
	Languages: []string{"es-ES", "es", "en"},
}

// AcceptLanguage renders Languages as an Accept-Language header value with
// decreasing quality factors.
func (p Persona) AcceptLanguage() string {
	var b strings.Builder
	for i, lang := range p.Languages {
		if i > 0 {
			q := 1.0 - 0.1*float64(i)
			if q < 0.1 {
				q = 0.1
			}
			fmt.Fprintf(&b, ",%s;q=%.1f", lang, q)
			continue
		}
		b.WriteString(lang)
	}
	return b.String()
}

// Apply returns the CDP actions that install p on the current target. It must
// run before the first navigation.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser persona.",
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
		zap.Bool("custom_user_agent", p.UserAgent != ""),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(hideAutomation).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject automation mask: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if len(p.Languages) > 0 {
			ua = ua.WithAcceptLanguage(p.AcceptLanguage())
		}
		tasks = append(tasks, ua)
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}))
	}
	return tasks
}
