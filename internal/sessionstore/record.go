// internal/sessionstore/record.go
package sessionstore

import (
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie is the on-disk form of a browser cookie. The field names match what
// a DevTools cookie dump looks like, so files written by older tooling load.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch; -1 for session cookies
	Size     int64   `json:"size,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"sameSite,omitempty"`
	Priority string  `json:"priority,omitempty"`
}

// Storage holds both web storage areas of the last visited origin.
type Storage struct {
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
}

// Empty reports whether neither area holds a key.
func (s *Storage) Empty() bool {
	return s == nil || (len(s.LocalStorage) == 0 && len(s.SessionStorage) == 0)
}

// Record is everything persisted for one site. Either part may be absent.
type Record struct {
	Cookies []Cookie
	Storage *Storage
}

// Empty reports whether the record would restore nothing.
func (r *Record) Empty() bool {
	return r == nil || (len(r.Cookies) == 0 && r.Storage.Empty())
}

// ExpiresAt returns the cookie's expiry, or the zero time for session cookies.
func (c Cookie) ExpiresAt() time.Time {
	if c.Session || c.Expires <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(c.Expires)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func cookieFromNetwork(c *network.Cookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Size:     c.Size,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		Session:  c.Session,
		SameSite: c.SameSite.String(),
		Priority: c.Priority.String(),
	}
}

// param converts the stored cookie into a SetCookies parameter.
func (c Cookie) param() *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.SameSite != "" {
		p.SameSite = network.CookieSameSite(c.SameSite)
	}
	if c.Priority != "" {
		p.Priority = network.CookiePriority(c.Priority)
	}
	if exp := c.ExpiresAt(); !exp.IsZero() {
		ts := cdp.TimeSinceEpoch(exp)
		p.Expires = &ts
	}
	return p
}

func cookieParams(cookies []Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, c.param())
	}
	return params
}
