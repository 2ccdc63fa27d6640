package authz

import (
	"strings"
	"testing"
)

func TestBearerChallengeFormatting(t *testing.T) {
	tests := []struct {
		name                                   string
		realm, scope, errorCode, errorDescription string
		want                                   string
	}{
		{
			"all parameters in order",
			"mcp", "write:admin", "insufficient_scope", "Required scope: write:admin",
			`Bearer realm="mcp", scope="write:admin", error="insufficient_scope", error_description="Required scope: write:admin"`,
		},
		{
			"empty values omitted",
			"mcp", "", "invalid_token", "",
			`Bearer realm="mcp", error="invalid_token"`,
		},
		{
			"whitespace-only values omitted",
			"   ", "read", "", "\t",
			`Bearer scope="read"`,
		},
		{
			"no parameters at all",
			"", "", "", "",
			"Bearer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearerChallenge(tt.realm, tt.scope, tt.errorCode, tt.errorDescription)
			if got.WWWAuthenticate != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.WWWAuthenticate)
			}
			if got.StatusCode != 401 {
				t.Errorf("expected status 401, got %d", got.StatusCode)
			}
		})
	}
}

func TestBasicChallenge(t *testing.T) {
	if got := BasicChallenge("").WWWAuthenticate; got != "Basic" {
		t.Errorf("expected bare Basic, got %q", got)
	}
	if got := BasicChallenge("internal").WWWAuthenticate; got != `Basic realm="internal"` {
		t.Errorf("expected realm parameter, got %q", got)
	}
}

func TestInsufficientScopeChallenge(t *testing.T) {
	got := InsufficientScopeChallenge("write:admin", "mcp")
	want := `Bearer realm="mcp", scope="write:admin", error="insufficient_scope", error_description="Required scope: write:admin"`
	if got.WWWAuthenticate != want {
		t.Errorf("expected %q, got %q", want, got.WWWAuthenticate)
	}
}

func TestInvalidTokenChallenge(t *testing.T) {
	got := InvalidTokenChallenge("mcp", "")
	if !strings.Contains(got.WWWAuthenticate, `error="invalid_token"`) {
		t.Errorf("expected invalid_token error, got %q", got.WWWAuthenticate)
	}
	if !strings.Contains(got.WWWAuthenticate, "expired, revoked, malformed, or invalid") {
		t.Errorf("expected default description, got %q", got.WWWAuthenticate)
	}

	custom := InvalidTokenChallenge("", "token signature mismatch")
	if !strings.Contains(custom.WWWAuthenticate, `error_description="token signature mismatch"`) {
		t.Errorf("expected custom description, got %q", custom.WWWAuthenticate)
	}
}

func TestCustomChallenge(t *testing.T) {
	got := CustomChallenge("Negotiate", nil)
	if got.WWWAuthenticate != "Negotiate" {
		t.Errorf("expected bare scheme, got %q", got.WWWAuthenticate)
	}

	got = CustomChallenge("DPoP", []Param{
		{Key: "algs", Value: "ES256"},
		{Key: "realm", Value: "api"},
	})
	want := `DPoP algs="ES256", realm="api"`
	if got.WWWAuthenticate != want {
		t.Errorf("expected %q, got %q", want, got.WWWAuthenticate)
	}
}

func TestChallengeStartsWithScheme(t *testing.T) {
	challenges := []Challenge{
		BearerChallenge("r", "s", "e", "d"),
		BasicChallenge("r"),
		InsufficientScopeChallenge("s", "r"),
		InvalidTokenChallenge("r", ""),
		CustomChallenge("Custom", []Param{{Key: "k", Value: "v"}}),
	}
	for _, c := range challenges {
		scheme := strings.SplitN(c.WWWAuthenticate, " ", 2)[0]
		if scheme == "" || strings.ContainsAny(scheme, `",=`) {
			t.Errorf("challenge %q does not start with a valid scheme token", c.WWWAuthenticate)
		}
	}
}
