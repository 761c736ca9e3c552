// internal/login/profile.go
package login

import "github.com/xkilldash9x/telemetry-sync/internal/browser/dom"

// Profile describes the login form of one site: the marker whose presence
// means the page is not authenticated, the fields to fill and the buttons
// that submit each phase.
type Profile struct {
	Name       string
	Marker     dom.Matcher
	Identifier dom.Matcher
	Submit     dom.Target
	// Password and PasswordSubmit are nil for single-phase forms.
	Password       dom.Matcher
	PasswordSubmit dom.Target
}

// NeedsLogin reports whether the login marker is present anywhere in the
// document. Absence means the session is authenticated.
func (p Profile) NeedsLogin(tree *dom.Tree) bool {
	return tree.First(p.Marker) != nil
}

// submitTarget matches form buttons whose text or value contains a keyword.
func submitTarget(name string, keywords ...string) dom.Target {
	return dom.Target{
		Name: name,
		Candidates: dom.AnyOf(
			dom.Tag("button"),
			dom.AllOf(dom.Tag("input"), dom.Attr("type", "submit")),
		),
		Texts:   keywords,
		Fields:  dom.FieldText | dom.FieldValue,
		Require: dom.Visible,
	}
}

func input(m dom.Matcher) dom.Matcher { return dom.AllOf(dom.Tag("input"), m) }

var usernameInput = input(dom.Attr("name", "username"))

// Analytics is the single-phase form of the analytics dashboard.
var Analytics = Profile{
	Name:       "analytics",
	Marker:     usernameInput,
	Identifier: usernameInput,
	Submit:     submitTarget("login submit", "iniciar", "login", "next", "sign in"),
}

// Workspace is the two-phase identity provider form in front of the BI
// workspace: email first, then password.
var Workspace = Profile{
	Name: "workspace",
	Marker: input(dom.AnyOf(
		dom.Attr("type", "email"),
		dom.Attr("type", "password"),
		dom.Attr("name", "loginfmt"),
	)),
	Identifier:     input(dom.AnyOf(dom.Attr("type", "email"), dom.Attr("name", "loginfmt"))),
	Submit:         submitTarget("next", "next", "siguiente", "sign in"),
	Password:       input(dom.Attr("type", "password")),
	PasswordSubmit: submitTarget("sign in", "sign in", "iniciar", "entrar"),
}
