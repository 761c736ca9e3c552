// internal/browser/dom/match.go
package dom

import "strings"

// Matcher is a predicate over a node; it plays the role a CSS selector plays
// in the page, but runs against the snapshot.
type Matcher func(*Node) bool

// Tag matches any of the given lower-case tag names.
func Tag(names ...string) Matcher {
	return func(n *Node) bool {
		for _, name := range names {
			if n.Tag == name {
				return true
			}
		}
		return false
	}
}

// Class matches a class token.
func Class(name string) Matcher {
	return func(n *Node) bool { return n.HasClass(name) }
}

// ClassContains matches when the raw class attribute contains sub, case-insensitively.
func ClassContains(sub string) Matcher {
	return func(n *Node) bool { return ContainsFold(n.Attr("class"), sub) }
}

// Attr matches an exact attribute value.
func Attr(name, value string) Matcher {
	return func(n *Node) bool {
		v, ok := n.Attrs[name]
		return ok && v == value
	}
}

// AttrContainsFold matches an attribute containing sub, case-insensitively.
func AttrContainsFold(name, sub string) Matcher {
	return func(n *Node) bool {
		v, ok := n.Attrs[name]
		return ok && ContainsFold(v, sub)
	}
}

// HasAttr matches when the attribute is present.
func HasAttr(name string) Matcher {
	return func(n *Node) bool {
		_, ok := n.Attrs[name]
		return ok
	}
}

// Role is shorthand for Attr("role", role).
func Role(role string) Matcher { return Attr("role", role) }

// AnyOf matches when any matcher does.
func AnyOf(ms ...Matcher) Matcher {
	return func(n *Node) bool {
		for _, m := range ms {
			if m(n) {
				return true
			}
		}
		return false
	}
}

// AllOf matches when every matcher does.
func AllOf(ms ...Matcher) Matcher {
	return func(n *Node) bool {
		for _, m := range ms {
			if !m(n) {
				return false
			}
		}
		return true
	}
}

// Not negates m.
func Not(m Matcher) Matcher {
	return func(n *Node) bool { return !m(n) }
}

// Within matches nodes that have an ancestor-or-self matching m.
func Within(m Matcher) Matcher {
	return func(n *Node) bool { return n.Closest(m) != nil }
}

// Has matches nodes with a descendant matching m.
func Has(m Matcher) Matcher {
	return func(n *Node) bool { return n.Contains(m) }
}

// TextContains matches when the text content contains any of subs.
func TextContains(subs ...string) Matcher {
	return func(n *Node) bool { return containsAny(n.Text(), subs) }
}

// Visible is StyleVisible as a Matcher.
func Visible(n *Node) bool { return n.StyleVisible() }

// Rendered is Node.Rendered as a Matcher.
func Rendered(n *Node) bool { return n.Rendered() }

// TextField selects which strings of a node are compared with a Target's texts.
type TextField uint8

const (
	FieldText TextField = 1 << iota
	FieldTitle
	FieldAriaLabel
	FieldValue
)

// Target is an Automation Target Descriptor: the candidate elements to
// consider, the visible-text substrings that qualify one, and the predicates
// that rule one out. An empty Texts list accepts any candidate.
type Target struct {
	Name       string
	Candidates Matcher
	Texts      []string
	Fields     TextField
	Exclude    []Matcher
	// Require is applied after Candidates; typically Visible or Rendered.
	Require Matcher
}

// Match reports whether n satisfies the descriptor.
func (t Target) Match(n *Node) bool {
	if t.Candidates != nil && !t.Candidates(n) {
		return false
	}
	if t.Require != nil && !t.Require(n) {
		return false
	}
	for _, ex := range t.Exclude {
		if ex(n) {
			return false
		}
	}
	if len(t.Texts) == 0 {
		return true
	}
	fields := t.Fields
	if fields == 0 {
		fields = FieldText
	}
	for _, s := range t.strings(n, fields) {
		if containsAny(s, t.Texts) {
			return true
		}
	}
	return false
}

func (t Target) strings(n *Node, fields TextField) []string {
	var out []string
	if fields&FieldText != 0 {
		out = append(out, n.Text())
	}
	if fields&FieldTitle != 0 {
		out = append(out, n.Attr("title"))
	}
	if fields&FieldAriaLabel != 0 {
		out = append(out, n.Attr("aria-label"))
	}
	if fields&FieldValue != 0 {
		out = append(out, n.Attr("value"))
	}
	return out
}

// Matcher adapts the descriptor for use with Find.
func (t Target) Matcher() Matcher { return t.Match }

// FindAll returns every match in document order.
func (t Target) FindAll(tree *Tree) []*Node { return tree.Find(t.Match) }

// First returns the first match or nil.
func (t Target) First(tree *Tree) *Node { return tree.First(t.Match) }

// FirstIn returns the first match among the descendants of scope.
func (t Target) FirstIn(scope *Node) *Node { return scope.FindFirst(t.Match) }

func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
