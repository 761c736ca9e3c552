// internal/browser/dom/snapshot.go
package dom

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotScript serializes the live document (and same-origin frames) into
// the Node shape, stamping RefAttr on every element it visits. Script-like
// elements are skipped and SVG subtrees are cut at the <svg> element.
const SnapshotScript = `(() => {
	const ATTR = '` + RefAttr + `';
	const SKIP = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE', 'HEAD', 'META', 'LINK']);
	const gen = (window.__tsyncGen = (window.__tsyncGen || 0) + 1);
	let seq = 0;
	let frames = 0;
	const ownText = el => {
		let s = '';
		for (const c of el.childNodes) {
			if (c.nodeType === 3) s += ' ' + c.nodeValue;
		}
		return s.replace(/\s+/g, ' ').trim();
	};
	const walk = (el, frame) => {
		if (SKIP.has(el.tagName.toUpperCase())) return null;
		const ref = gen + '.' + (++seq);
		el.setAttribute(ATTR, ref);
		const attrs = {};
		for (const a of el.attributes) {
			if (a.name !== ATTR) attrs[a.name] = a.value;
		}
		const view = el.ownerDocument.defaultView;
		const st = view.getComputedStyle(el);
		const r = el.getBoundingClientRect();
		const node = {
			ref: ref,
			tag: el.tagName.toLowerCase(),
			attrs: attrs,
			text: ownText(el),
			display: st.display,
			visibility: st.visibility,
			position: st.position,
			overflowY: st.overflowY,
			offsetParent: el.offsetParent !== null,
			scrollHeight: el.scrollHeight || 0,
			clientHeight: el.clientHeight || 0,
			scrollTop: el.scrollTop || 0,
			rect: { top: r.top, left: r.left, width: r.width, height: r.height },
			frame: frame,
			children: []
		};
		if (node.tag === 'svg') return node;
		for (const c of el.children) {
			const n = walk(c, frame);
			if (n) node.children.push(n);
		}
		if (node.tag === 'iframe' || node.tag === 'frame') {
			try {
				const doc = el.contentDocument;
				if (doc && doc.documentElement) {
					const n = walk(doc.documentElement, ++frames);
					if (n) node.children.push(n);
				}
			} catch (e) {}
		}
		return node;
	};
	return JSON.stringify(walk(document.documentElement, 0));
})()`

// resolveScript locates an element by ref across the top document and any
// same-origin frames. It is prepended to every by-ref action.
const resolveScript = `const __resolve = (ref) => {
	const sel = '[` + RefAttr + `="' + ref + '"]';
	const search = (doc) => {
		const el = doc.querySelector(sel);
		if (el) return el;
		for (const f of doc.querySelectorAll('iframe, frame')) {
			try {
				const inner = f.contentDocument && search(f.contentDocument);
				if (inner) return inner;
			} catch (e) {}
		}
		return null;
	};
	return search(document);
};`

// ClickScript clicks the element with the given ref from inside the page.
func ClickScript(ref string) string {
	return fmt.Sprintf(`(() => { %s
	const el = __resolve(%s);
	if (!el) return false;
	el.scrollIntoView({ behavior: 'auto', block: 'center' });
	el.click();
	return true;
})()`, resolveScript, quote(ref))
}

// FillScript focuses an input, clears it and sets value, firing input and
// change events so framework bindings observe the edit.
func FillScript(ref, value string) string {
	return fmt.Sprintf(`(() => { %s
	const el = __resolve(%s);
	if (!el) return false;
	el.focus();
	el.value = '';
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`, resolveScript, quote(ref), quote(value))
}

// ScrollScript adjusts scrollTop of a container and reports the new metrics,
// or {missing: true} when the ref no longer resolves.
// When relative is true, top is added to the current position.
func ScrollScript(ref string, top float64, relative bool) string {
	px := strconv.FormatFloat(top, 'f', -1, 64)
	return fmt.Sprintf(`(() => { %s
	const el = __resolve(%s);
	if (!el) return { missing: true };
	if (%t) { el.scrollTop += %s; } else { el.scrollTop = %s; }
	return { scrollTop: el.scrollTop, scrollHeight: el.scrollHeight, clientHeight: el.clientHeight };
})()`, resolveScript, quote(ref), relative, px, px)
}

// Decode parses the string produced by SnapshotScript.
func Decode(raw string) (*Tree, error) {
	if raw == "" || raw == "null" {
		return nil, fmt.Errorf("empty snapshot")
	}
	var root Node
	if err := json.UnmarshalFromString(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return NewTree(&root), nil
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
