package probe_test

import (
	"testing"

	"github.com/hazyhaar/portalwatch/probe"
)

var rules = probe.Rules{
	LoginPrefixes:   []string{"https://portal.example.com/login"},
	IdentityHosts:   []string{"idp.example.net"},
	HomePrefixes:    []string{"https://portal.example.com/account/status"},
	LandingPrefixes: []string{"https://portal.example.com/welcome", "https://portal.example.com/"},
}

func TestClassify(t *testing.T) {
	cases := []struct {
		url  string
		want probe.Page
	}{
		{"https://portal.example.com/login", probe.PageLogin},
		{"https://portal.example.com/login?next=%2Faccount", probe.PageLogin},
		{"https://portal.example.com/account/status", probe.PageHome},
		{"https://portal.example.com/account/status/details", probe.PageHome},
		{"https://portal.example.com/welcome", probe.PageLanding},
		{"https://portal.example.com/", probe.PageLanding},
		{"https://idp.example.net/oauth2/authorize?client_id=x", probe.PageIdentityProvider},
		{"https://sso.idp.example.net/password", probe.PageIdentityProvider},
		{"https://other.example.org/", probe.PageUnknown},
		{"about:blank", probe.PageUnknown},
		{"", probe.PageUnknown},
		{"::not-a-url::", probe.PageUnknown},
	}

	for _, tc := range cases {
		if got := rules.Classify(tc.url); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestClassify_HomeWinsOverLanding(t *testing.T) {
	// The catch-all landing prefix must not shadow the more specific home page.
	if got := rules.Classify("https://portal.example.com/account/status"); got != probe.PageHome {
		t.Fatalf("got %v, want home", got)
	}
}

func TestPage_String(t *testing.T) {
	for p, want := range map[probe.Page]string{
		probe.PageUnknown:          "unknown",
		probe.PageLogin:            "login",
		probe.PageIdentityProvider: "identity_provider",
		probe.PageHome:             "home",
		probe.PageLanding:          "landing",
	} {
		if p.String() != want {
			t.Errorf("String() = %q, want %q", p.String(), want)
		}
	}
}
