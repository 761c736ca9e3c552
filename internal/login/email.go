// internal/login/email.go
package login

import (
	"strings"

	"github.com/xkilldash9x/telemetry-sync/internal/browser/dom"
)

// emailSelectors are tried in order; the first one with any match wins.
var emailSelectors = []dom.Matcher{
	input(dom.Attr("name", "loginfmt")),
	input(dom.Attr("name", "email")),
	input(dom.Attr("name", "username")),
	input(dom.Attr("type", "email")),
	input(dom.AttrContainsFold("id", "user")),
	input(dom.AttrContainsFold("id", "mail")),
}

var emailHints = []string{"mail", "email", "usuario", "user"}

// FindEmailInput locates an email or username field, searching the top
// document first and then each captured frame.
func FindEmailInput(tree *dom.Tree) *dom.Node {
	for _, doc := range tree.Documents() {
		if n := emailInputIn(doc); n != nil {
			return n
		}
	}
	return nil
}

func emailInputIn(doc *dom.Node) *dom.Node {
	own := func(m dom.Matcher) dom.Matcher {
		return dom.AllOf(func(x *dom.Node) bool { return dom.InDocument(doc, x) }, m)
	}

	for _, sel := range emailSelectors {
		if direct := doc.FindFirst(own(sel)); direct != nil {
			if direct.OffsetParent {
				return direct
			}
			break
		}
	}

	return doc.FindFirst(own(func(n *dom.Node) bool {
		if n.Tag != "input" || strings.EqualFold(n.Attr("type"), "password") {
			return false
		}
		hint := strings.ToLower(inputHint(n))
		for _, h := range emailHints {
			if strings.Contains(hint, h) {
				return true
			}
		}
		return false
	}))
}

// inputHint gathers the strings that describe an input to a human reader.
func inputHint(n *dom.Node) string {
	parts := []string{n.Attr("name"), n.Attr("aria-label"), n.Attr("placeholder")}
	if label := n.Closest(dom.Tag("label")); label != nil {
		parts = append(parts, label.Text())
	}
	if p := n.Parent(); p != nil {
		parts = append(parts, p.Text())
	}
	return strings.Join(parts, " ")
}
