// internal/browser/dom/html.go
package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// FromHTML builds a Tree from static markup, approximating what
// SnapshotScript would report for it in a browser. It exists so element
// searches can be exercised without a browser.
//
// Computed style is derived from inline style declarations (display,
// visibility, position, overflow-y) and the hidden attribute; visibility is
// inherited and display:none removes the subtree from layout. Layout that
// markup cannot express is read from optional attributes:
//
//	data-rect="top,left,width,height"
//	data-scroll-height, data-client-height, data-scroll-top
//
// Rendered elements without data-rect get a 100x20 box. An <iframe srcdoc>
// is parsed as a same-origin frame.
func FromHTML(src string) (*Tree, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	b := &htmlBuilder{}
	root := b.document(doc, 0)
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	return NewTree(root), nil
}

// MustFromHTML is FromHTML for fixtures; it panics on malformed input.
func MustFromHTML(src string) *Tree {
	t, err := FromHTML(src)
	if err != nil {
		panic(err)
	}
	return t
}

type htmlBuilder struct {
	seq    int
	frames int
}

type inherited struct {
	visibility string
	inLayout   bool
}

func (b *htmlBuilder) document(doc *html.Node, frame int) *Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return b.element(c, frame, inherited{visibility: "visible", inLayout: true})
		}
	}
	return nil
}

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "meta": true, "link": true,
}

func (b *htmlBuilder) element(h *html.Node, frame int, inh inherited) *Node {
	if skipTags[h.Data] {
		return nil
	}
	b.seq++
	n := &Node{
		Ref:        strconv.Itoa(b.seq),
		Tag:        strings.ToLower(h.Data),
		Attrs:      make(map[string]string, len(h.Attr)),
		Display:    "block",
		Visibility: inh.visibility,
		Position:   "static",
		OverflowY:  "visible",
		Frame:      frame,
	}
	for _, a := range h.Attr {
		n.Attrs[a.Key] = a.Val
	}
	applyInlineStyle(n)
	if _, hidden := n.Attrs["hidden"]; hidden {
		n.Display = "none"
	}

	inLayout := inh.inLayout && n.Display != "none"
	n.OffsetParent = inLayout && n.Position != "fixed" && n.Tag != "html" && n.Tag != "body"
	if inLayout && n.Visibility != "hidden" {
		n.Rect = Rect{Width: 100, Height: 20}
	}
	applyLayoutHints(n)

	var text []string
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			text = append(text, c.Data)
		}
	}
	n.OwnText = collapse(strings.Join(text, " "))

	if n.Tag == "svg" {
		return n
	}
	childInh := inherited{visibility: n.Visibility, inLayout: inLayout}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if child := b.element(c, frame, childInh); child != nil {
			n.Children = append(n.Children, child)
		}
	}

	if n.Tag == "iframe" {
		if srcdoc, ok := n.Attrs["srcdoc"]; ok {
			inner, err := html.Parse(strings.NewReader(srcdoc))
			if err == nil {
				b.frames++
				if root := b.document(inner, b.frames); root != nil {
					n.Children = append(n.Children, root)
				}
			}
		}
	}
	return n
}

func applyInlineStyle(n *Node) {
	for _, decl := range strings.Split(n.Attrs["style"], ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		val = strings.ToLower(strings.TrimSpace(val))
		switch strings.ToLower(strings.TrimSpace(prop)) {
		case "display":
			n.Display = val
		case "visibility":
			n.Visibility = val
		case "position":
			n.Position = val
		case "overflow-y", "overflow":
			n.OverflowY = val
		}
	}
}

func applyLayoutHints(n *Node) {
	if v, ok := n.Attrs["data-rect"]; ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			vals := make([]float64, 4)
			for i, p := range parts {
				vals[i], _ = strconv.ParseFloat(strings.TrimSpace(p), 64)
			}
			n.Rect = Rect{Top: vals[0], Left: vals[1], Width: vals[2], Height: vals[3]}
		}
	}
	num := func(name string) (float64, bool) {
		v, ok := n.Attrs[name]
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	if f, ok := num("data-scroll-height"); ok {
		n.ScrollHeight = f
	}
	if f, ok := num("data-client-height"); ok {
		n.ClientHeight = f
	}
	if f, ok := num("data-scroll-top"); ok {
		n.ScrollTop = f
	}
}
