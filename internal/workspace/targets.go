// internal/workspace/targets.go
package workspace

import (
	"strings"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
)

var (
	// refreshButton opens the dataset refresh dropdown.
	refreshButton = dom.AnyOf(
		dom.Attr("data-testid", "refresh-button"),
		dom.AllOf(dom.Tag("button"), dom.AnyOf(
			dom.AttrContainsFold("aria-label", "actualizar"),
			dom.AttrContainsFold("title", "actualizar"),
		)),
	)

	refreshNow = dom.Target{
		Name: "refresh now",
		// Covers dropDown-displayName and the other dropdown label spans.
		Candidates: dom.AllOf(dom.Tag("span"), dom.ClassContains("dropDown")),
		Texts:      []string{"actualizar ahora", "refresh now"},
	}
)

// FindRefreshButton returns the refresh dropdown control, or nil.
func FindRefreshButton(tree *dom.Tree) *dom.Node {
	return tree.First(refreshButton)
}

// FindRefreshNow returns the "refresh now" entry of the open dropdown, or nil.
func FindRefreshNow(tree *dom.Tree) *dom.Node {
	return refreshNow.First(tree)
}

// dropdownLabels lists the dropdown entries currently on the page.
func dropdownLabels(tree *dom.Tree) []string {
	var labels []string
	for _, n := range tree.Find(refreshNow.Candidates) {
		if t := strings.TrimSpace(n.Text()); t != "" {
			labels = append(labels, t)
		}
	}
	return labels
}
