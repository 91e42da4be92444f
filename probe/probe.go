// Package probe classifies portal URLs into page categories. It is pure:
// no network, no DOM, just a URL string in and a category out. The
// orchestrator calls it on every URL change to decide the next action.
package probe

import (
	"net/url"
	"strings"
)

// Page is the category of a portal URL.
type Page int

const (
	PageUnknown          Page = iota // Not recognised.
	PageLogin                        // The portal's own login form.
	PageIdentityProvider             // The external identity-provider hand-off.
	PageHome                         // The authenticated target page.
	PageLanding                      // A generic landing page the portal redirects to.
)

// String returns the category name.
func (p Page) String() string {
	switch p {
	case PageLogin:
		return "login"
	case PageIdentityProvider:
		return "identity_provider"
	case PageHome:
		return "home"
	case PageLanding:
		return "landing"
	default:
		return "unknown"
	}
}

// Rules holds the per-deployment URL patterns. Prefixes are compared against
// the URL without query or fragment; identity-provider pages are matched by
// host because IdPs route through many paths during a hand-off.
type Rules struct {
	LoginPrefixes   []string `yaml:"login_prefixes"`
	IdentityHosts   []string `yaml:"identity_hosts"`
	HomePrefixes    []string `yaml:"home_prefixes"`
	LandingPrefixes []string `yaml:"landing_prefixes"`
}

// Classify maps a URL to its page category. Unparseable URLs and empty
// strings classify as PageUnknown. More specific categories win: home,
// then login, then landing, then identity provider by host.
func (r Rules) Classify(rawURL string) Page {
	if rawURL == "" {
		return PageUnknown
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return PageUnknown
	}

	base := u.Scheme + "://" + u.Host + u.Path

	switch {
	case hasPrefix(base, r.HomePrefixes):
		return PageHome
	case hasPrefix(base, r.LoginPrefixes):
		return PageLogin
	case hasPrefix(base, r.LandingPrefixes):
		return PageLanding
	case matchesHost(u.Host, r.IdentityHosts):
		return PageIdentityProvider
	default:
		return PageUnknown
	}
}

func hasPrefix(base string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(base, p) {
			return true
		}
	}
	return false
}

func matchesHost(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		h = strings.ToLower(h)
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
