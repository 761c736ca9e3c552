// internal/browser/dom/node.go
// Package dom models a page as plain data. A live page is serialized once per
// decision into a Tree; every element search runs as a pure function over that
// tree and hands back a *Node (or nil), whose Ref lets the browser layer act on
// the live element afterwards.
package dom

import (
	"strings"
)

// RefAttr is stamped on each live element during a snapshot.
const RefAttr = "data-tsync-ref"

// Rect mirrors getBoundingClientRect.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the element occupies no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// ScrollMetrics are the live scroll values of a container.
type ScrollMetrics struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

// AtBottom reports whether the viewport reaches within slack pixels of the end.
func (m ScrollMetrics) AtBottom(slack float64) bool {
	return m.ScrollTop+m.ClientHeight >= m.ScrollHeight-slack
}

// Node is one serialized element.
type Node struct {
	Ref   string            `json:"ref"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
	// OwnText holds the element's direct text children, whitespace collapsed.
	OwnText string `json:"text,omitempty"`

	// Computed style and layout.
	Display      string  `json:"display,omitempty"`
	Visibility   string  `json:"visibility,omitempty"`
	Position     string  `json:"position,omitempty"`
	OverflowY    string  `json:"overflowY,omitempty"`
	OffsetParent bool    `json:"offsetParent"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
	ScrollTop    float64 `json:"scrollTop"`
	Rect         Rect    `json:"rect"`

	// Frame is 0 for the top document and n for the n-th same-origin frame.
	Frame    int     `json:"frame,omitempty"`
	Children []*Node `json:"children,omitempty"`

	parent *Node
	text   *string
}

// Parent returns the enclosing element, crossing frame boundaries.
func (n *Node) Parent() *Node { return n.parent }

// Attr returns an attribute value or "".
func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasClass reports whether the class attribute lists name.
func (n *Node) HasClass(name string) bool {
	for _, c := range strings.Fields(n.Attr("class")) {
		if c == name {
			return true
		}
	}
	return false
}

// Text is the element's full text content, whitespace collapsed.
func (n *Node) Text() string {
	if n.text != nil {
		return *n.text
	}
	parts := make([]string, 0, len(n.Children)+1)
	if n.OwnText != "" {
		parts = append(parts, n.OwnText)
	}
	for _, c := range n.Children {
		if t := c.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	s := collapse(strings.Join(parts, " "))
	n.text = &s
	return s
}

// StyleVisible checks computed style only.
func (n *Node) StyleVisible() bool {
	return n.Display != "none" && n.Visibility != "hidden"
}

// Rendered is the stricter check: the element takes part in layout
// (has an offset parent or is fixed) and is not hidden by style.
func (n *Node) Rendered() bool {
	return (n.OffsetParent || n.Position == "fixed") && n.StyleVisible()
}

// Overflow is how far the content extends past the visible box.
func (n *Node) Overflow() float64 { return n.ScrollHeight - n.ClientHeight }

// Scrollable reports whether the computed overflow permits scrolling.
func (n *Node) Scrollable() bool {
	return n.OverflowY == "auto" || n.OverflowY == "scroll"
}

// Metrics returns the scroll values captured with the snapshot.
func (n *Node) Metrics() ScrollMetrics {
	return ScrollMetrics{ScrollTop: n.ScrollTop, ScrollHeight: n.ScrollHeight, ClientHeight: n.ClientHeight}
}

// Selector addresses the live element within its own document.
func (n *Node) Selector() string {
	return `[` + RefAttr + `="` + n.Ref + `"]`
}

// Closest walks from n (inclusive) towards the root and returns the first match.
func (n *Node) Closest(m Matcher) *Node {
	for cur := n; cur != nil; cur = cur.parent {
		if m(cur) {
			return cur
		}
	}
	return nil
}

// Find returns the descendants of n (excluding n) that match, in document order.
func (n *Node) Find(m Matcher) []*Node {
	var out []*Node
	for _, c := range n.Children {
		c.walk(func(x *Node) {
			if m(x) {
				out = append(out, x)
			}
		})
	}
	return out
}

// FindFirst returns the first matching descendant or nil.
func (n *Node) FindFirst(m Matcher) *Node {
	if found := n.Find(m); len(found) > 0 {
		return found[0]
	}
	return nil
}

// Contains reports whether any descendant matches.
func (n *Node) Contains(m Matcher) bool { return n.FindFirst(m) != nil }

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// Tree is a full page snapshot.
type Tree struct {
	Root *Node
	refs map[string]*Node
}

// NewTree links parents and indexes refs. It takes ownership of root.
func NewTree(root *Node) *Tree {
	t := &Tree{Root: root, refs: make(map[string]*Node)}
	if root == nil {
		return t
	}
	var link func(n, parent *Node)
	link = func(n, parent *Node) {
		n.parent = parent
		n.text = nil
		if n.Ref != "" {
			t.refs[n.Ref] = n
		}
		for _, c := range n.Children {
			link(c, n)
		}
	}
	link(root, nil)
	return t
}

// Lookup resolves a ref back to its node.
func (t *Tree) Lookup(ref string) *Node { return t.refs[ref] }

// Find returns every matching node in document order, root included.
func (t *Tree) Find(m Matcher) []*Node {
	if t.Root == nil {
		return nil
	}
	var out []*Node
	t.Root.walk(func(x *Node) {
		if m(x) {
			out = append(out, x)
		}
	})
	return out
}

// First returns the first matching node or nil.
func (t *Tree) First(m Matcher) *Node {
	if found := t.Find(m); len(found) > 0 {
		return found[0]
	}
	return nil
}

// FindOrdered runs each matcher in turn and concatenates the results without
// duplicates, so earlier matchers rank first. This is how a prioritized
// selector list behaves.
func (t *Tree) FindOrdered(ms ...Matcher) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	for _, m := range ms {
		for _, n := range t.Find(m) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Documents returns the root element of the top document followed by the
// root element of every captured frame.
func (t *Tree) Documents() []*Node {
	if t.Root == nil {
		return nil
	}
	docs := []*Node{t.Root}
	t.Root.walk(func(x *Node) {
		if x.parent != nil && x.Frame != x.parent.Frame {
			docs = append(docs, x)
		}
	})
	return docs
}

// InDocument reports whether x belongs to the same document as root.
func InDocument(root, x *Node) bool { return root.Frame == x.Frame }

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsFold is a case-insensitive substring test.
func ContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
