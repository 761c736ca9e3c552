// internal/navigator/targets.go
package navigator

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
)

var (
	// clickable covers buttons, links and the component library's wrappers.
	clickable = dom.AnyOf(
		dom.Tag("button", "a", "lightning-button"),
		dom.Role("button"),
		dom.Class("slds-button"),
	)

	// menuContainer is anything that can host a dropdown's options.
	menuContainer = dom.AnyOf(
		dom.Role("menu"),
		dom.Class("slds-dropdown"),
		dom.Class("slds-listbox"),
		dom.Class("slds-dropdown-trigger"),
	)

	// menuItem are elements that are options by role or class.
	menuItem = dom.AnyOf(
		dom.Role("menuitem"),
		dom.Class("slds-dropdown__item"),
		dom.Class("slds-listbox__item"),
	)

	// menuCandidate widens menuItem with the buttons some menus render.
	menuCandidate = dom.AnyOf(menuItem, clickable)

	spinner = dom.AnyOf(dom.Tag("lightning-spinner"), dom.Class("slds-spinner"))

	// ContainerSelectors are the known scroll hosts of the analytics app, in
	// priority order.
	ContainerSelectors = []dom.Matcher{
		dom.Tag("analytics-app"),
		dom.Tag("analytics-dashboard-view"),
		dom.Tag("wave-dashboard-view"),
		dom.Class("waveDashboardView"),
		dom.Class("analyticsDashboardView"),
		dom.Class("dashboard-container"),
		dom.Class("dashboard-root"),
		dom.Class("waveApp"),
		dom.Class("slds-card__body"),
	}

	blockLevel = dom.Tag("div", "section", "article", "main")
)

// ReadyLandmark is the text the analytics app shows once its shell loaded.
const ReadyLandmark = "mis vistas"

// ButtonTarget describes a clickable element whose text contains text.
func ButtonTarget(text string) dom.Target {
	return dom.Target{
		Name:       text,
		Candidates: clickable,
		Texts:      []string{text},
	}
}

// FindButtonByText returns the first clickable element containing text, or nil.
func FindButtonByText(tree *dom.Tree, text string) *dom.Node {
	return ButtonTarget(text).First(tree)
}

// MenuOpen reports whether any menu container is visible.
func MenuOpen(tree *dom.Tree) bool {
	return tree.First(dom.AllOf(menuContainer, dom.Visible)) != nil
}

// MenuOptionTarget describes a rendered option whose text, title or
// aria-label contains any of labels.
func MenuOptionTarget(labels ...string) dom.Target {
	return dom.Target{
		Name:       strings.Join(labels, "/"),
		Candidates: menuCandidate,
		Require:    dom.Rendered,
		Texts:      labels,
		Fields:     dom.FieldText | dom.FieldTitle | dom.FieldAriaLabel,
	}
}

// FindMenuOption returns the first rendered option matching any label, or nil.
func FindMenuOption(tree *dom.Tree, labels ...string) *dom.Node {
	return MenuOptionTarget(labels...).First(tree)
}

// VisibleMenuLabels lists the text of every rendered menu item, for
// diagnosing a miss.
func VisibleMenuLabels(tree *dom.Tree) []string {
	var labels []string
	for _, n := range tree.Find(dom.AllOf(menuItem, dom.Rendered)) {
		if t := strings.TrimSpace(n.Text()); t != "" {
			labels = append(labels, t)
		}
	}
	return labels
}

// FindScrollableMenu returns the first visible menu container with more than
// 20px of hidden content.
func FindScrollableMenu(tree *dom.Tree) *dom.Node {
	return tree.First(func(n *dom.Node) bool {
		return menuContainer(n) && n.StyleVisible() && n.Overflow() > 20
	})
}

// FindScrollContainer picks the element to scroll in the analytics panel.
// Known containers are tried in priority order and the first whose overflow
// exceeds threshold wins. Otherwise the visible block element with the largest
// overflow above 400px is chosen, provided its style allows scrolling or the
// overflow is large enough (over 1200px) that it must be scrolled somehow.
func FindScrollContainer(tree *dom.Tree, threshold float64) *dom.Node {
	for _, n := range tree.FindOrdered(ContainerSelectors...) {
		if n.Overflow() > threshold {
			return n
		}
	}

	fallback := tree.Find(func(n *dom.Node) bool {
		if !blockLevel(n) || !n.StyleVisible() {
			return false
		}
		diff := n.Overflow()
		return diff > 400 && (n.Scrollable() || diff > 1200)
	})
	if len(fallback) == 0 {
		return nil
	}
	sort.SliceStable(fallback, func(i, j int) bool {
		return fallback[i].Overflow() > fallback[j].Overflow()
	})
	return fallback[0]
}

// AnalyticsReady reports whether the landmark text is present and no
// loading spinner exists.
func AnalyticsReady(tree *dom.Tree) bool {
	if tree.Root == nil || !dom.ContainsFold(tree.Root.Text(), ReadyLandmark) {
		return false
	}
	return tree.First(spinner) == nil
}
