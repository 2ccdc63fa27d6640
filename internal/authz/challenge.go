package authz

import (
	"fmt"
	"net/http"
	"strings"
)

// Challenge is an authentication directive conveyed to the client as an
// HTTP WWW-Authenticate header value.
type Challenge struct {
	// WWWAuthenticate is the full header value, starting with the auth
	// scheme token.
	WWWAuthenticate string

	// StatusCode is the HTTP status a transport should use, 401 for every
	// constructor here.
	StatusCode int
}

// Param is one key="value" parameter of a custom challenge.
type Param struct {
	Key   string
	Value string
}

// defaultInvalidTokenDescription explains an invalid_token error when the
// caller does not supply a description.
const defaultInvalidTokenDescription = "The access token is expired, revoked, malformed, or invalid"

// BearerChallenge builds a Bearer challenge. Parameters appear in the
// order realm, scope, error, error_description; empty or whitespace-only
// values are omitted.
func BearerChallenge(realm, scope, errorCode, errorDescription string) Challenge {
	var b strings.Builder
	b.WriteString("Bearer")
	writeParams(&b, []Param{
		{Key: "realm", Value: realm},
		{Key: "scope", Value: scope},
		{Key: "error", Value: errorCode},
		{Key: "error_description", Value: errorDescription},
	})
	return Challenge{WWWAuthenticate: b.String(), StatusCode: http.StatusUnauthorized}
}

// BasicChallenge builds a Basic challenge, with an optional realm.
func BasicChallenge(realm string) Challenge {
	var b strings.Builder
	b.WriteString("Basic")
	writeParams(&b, []Param{{Key: "realm", Value: realm}})
	return Challenge{WWWAuthenticate: b.String(), StatusCode: http.StatusUnauthorized}
}

// InsufficientScopeChallenge builds the Bearer challenge for a caller
// whose token lacks a required scope.
func InsufficientScopeChallenge(scope, realm string) Challenge {
	return BearerChallenge(realm, scope, "insufficient_scope",
		fmt.Sprintf("Required scope: %s", scope))
}

// InvalidTokenChallenge builds the Bearer challenge for an expired or
// malformed token.
func InvalidTokenChallenge(realm, errorDescription string) Challenge {
	if strings.TrimSpace(errorDescription) == "" {
		errorDescription = defaultInvalidTokenDescription
	}
	return BearerChallenge(realm, "", "invalid_token", errorDescription)
}

// CustomChallenge builds a challenge for an arbitrary scheme. With no
// parameters the value is the scheme alone.
func CustomChallenge(scheme string, params []Param) Challenge {
	var b strings.Builder
	b.WriteString(scheme)
	writeParams(&b, params)
	return Challenge{WWWAuthenticate: b.String(), StatusCode: http.StatusUnauthorized}
}

// writeParams appends comma-separated key="value" pairs, skipping empty or
// whitespace-only values. The scheme and the first parameter are separated
// by a single space.
func writeParams(b *strings.Builder, params []Param) {
	first := true
	for _, p := range params {
		if strings.TrimSpace(p.Value) == "" {
			continue
		}
		if first {
			b.WriteString(" ")
			first = false
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s=%q", p.Key, p.Value)
	}
}
