// internal/downloader/targets.go
package downloader

import (
	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
	"github.com/xkilldash9x/telemetry-sync/internal/navigator"
)

var (
	resultsTable = dom.AnyOf(dom.Tag("table"), dom.Class("slds-table"), dom.Class("wave-table"))

	actionCandidate = dom.AnyOf(
		dom.Tag("button", "lightning-button-icon"),
		dom.Role("button"),
		dom.Class("slds-dropdown-trigger"),
	)

	globalTrigger = dom.AllOf(
		dom.Tag("button"),
		dom.AnyOf(dom.Class("slds-dropdown-trigger"), dom.Attr("aria-haspopup", "true")),
	)

	inTableRow = dom.Within(dom.Tag("tbody", "tr"))
	hasIcon    = dom.Has(dom.Tag("svg"))

	// Download and export menus, then the Excel format inside them.
	DownloadMenuLabels = []string{"descargar", "download", "exportar"}
	ExcelLabels        = []string{"excel", ".xlsx", "microsoft excel"}
)

// isActionButton accepts the table's action dropdown: a dropdown trigger with
// an icon, or a control labeled for downloading or actions. The high contrast
// toggle shares the styling and is rejected, as is anything inside a row.
func isActionButton(n *dom.Node) bool {
	text := n.Text()
	title := n.Attr("title")
	if title == "" {
		title = n.Attr("aria-label")
	}
	if dom.ContainsFold(text, "alto contraste") || dom.ContainsFold(title, "alto contraste") {
		return false
	}
	if inTableRow(n) {
		return false
	}
	dropdown := dom.ClassContains("slds-dropdown-trigger")(n) || dom.ClassContains("slds-global-actions")(n)
	if dropdown && n.Attr("aria-haspopup") == "true" && hasIcon(n) {
		return true
	}
	for _, s := range []string{title, text} {
		if dom.ContainsFold(s, "descargar") || dom.ContainsFold(s, "acciones") {
			return true
		}
	}
	return false
}

// FindResultsTable returns the lowest rendered table on screen, searching
// inside the panel's scroll container when one exists.
func FindResultsTable(tree *dom.Tree) *dom.Node {
	var tables []*dom.Node
	if container := navigator.FindScrollContainer(tree, 100); container != nil {
		tables = container.Find(resultsTable)
	} else {
		tables = tree.Find(resultsTable)
	}

	var best *dom.Node
	for _, t := range tables {
		if t.Rect.Empty() {
			continue
		}
		if best == nil || t.Rect.Top > best.Rect.Top {
			best = t
		}
	}
	return best
}

// FindTableActionButton locates the actions control of the results table. It
// searches outward from the table through its ancestors, then falls back to
// any dropdown trigger with an icon in the document.
func FindTableActionButton(tree *dom.Tree) *dom.Node {
	table := FindResultsTable(tree)
	if table == nil {
		return nil
	}
	for scope := table.Parent(); scope != nil; scope = scope.Parent() {
		for _, b := range scope.Find(actionCandidate) {
			if isActionButton(b) {
				return b
			}
		}
	}
	return tree.First(dom.AllOf(globalTrigger, hasIcon, isActionButton))
}
