// internal/sessionstore/inspect.go
package sessionstore

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a JWT found among the stored storage values.
type Token struct {
	Area      string // "local" or "session"
	Key       string
	ExpiresAt time.Time
}

// Status summarizes what is stored for one site.
type Status struct {
	Site           string
	Stored         bool
	ProfileExists  bool
	Cookies        int
	EarliestExpiry time.Time // zero when every cookie is a session cookie
	LocalKeys      []string
	SessionKeys    []string
	Tokens         []Token
}

// Inspect reports on the stored record of site without touching a browser.
// Signatures are not verified; only the expiry claim is read.
func (s *Store) Inspect(site string) (*Status, error) {
	rec, err := s.Load(site)
	if err != nil {
		return nil, err
	}
	st := &Status{Site: site, Stored: rec != nil}
	if info, err := os.Stat(s.Paths(site).Profile); err == nil && info.IsDir() {
		st.ProfileExists = true
	}
	if rec == nil {
		return st, nil
	}

	st.Cookies = len(rec.Cookies)
	for _, c := range rec.Cookies {
		exp := c.ExpiresAt()
		if exp.IsZero() {
			continue
		}
		if st.EarliestExpiry.IsZero() || exp.Before(st.EarliestExpiry) {
			st.EarliestExpiry = exp
		}
	}

	if rec.Storage != nil {
		st.LocalKeys = sortedKeys(rec.Storage.LocalStorage)
		st.SessionKeys = sortedKeys(rec.Storage.SessionStorage)
		st.Tokens = append(st.Tokens, findTokens("local", rec.Storage.LocalStorage)...)
		st.Tokens = append(st.Tokens, findTokens("session", rec.Storage.SessionStorage)...)
	}
	return st, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// findTokens looks for JWTs stored either as the raw value or as a string
// field of a JSON object value, which is how identity libraries cache them.
func findTokens(area string, values map[string]string) []Token {
	var out []Token
	for _, key := range sortedKeys(values) {
		v := strings.TrimSpace(values[key])
		candidates := []string{v}
		if strings.HasPrefix(v, "{") {
			var obj map[string]interface{}
			if err := json.UnmarshalFromString(v, &obj); err == nil {
				candidates = candidates[:0]
				fields := make([]string, 0, len(obj))
				for f := range obj {
					fields = append(fields, f)
				}
				sort.Strings(fields)
				for _, f := range fields {
					if s, ok := obj[f].(string); ok {
						candidates = append(candidates, s)
					}
				}
			}
		}
		for _, c := range candidates {
			if exp, ok := tokenExpiry(c); ok {
				out = append(out, Token{Area: area, Key: key, ExpiresAt: exp})
				break
			}
		}
	}
	return out
}

func tokenExpiry(s string) (time.Time, bool) {
	if strings.Count(s, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
