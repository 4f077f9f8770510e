// Package authentication reconciles verified provider logins with platform
// accounts: it derives the verified email, binds provider identities and
// grants verification authorizations with reuse-safe failure semantics.
package authentication

import (
	"tunnus/internal/verification"
)

// Organization is the tenant context an authentication runs in. Identities
// and users are scoped to it; its host doubles as the fallback domain for
// synthesized email addresses.
type Organization struct {
	Slug string
	Host string
}

// Payload is the normalized result of a provider callback, shaped after the
// omniauth-style hash the upstream strategy emits.
type Payload struct {
	Provider string
	UID      string
	Info     Info
	// RawInfo carries the provider-specific claims of the ID token or
	// userinfo response.
	RawInfo verification.Claims
	// AccessToken, when present, can be exchanged for profile API
	// enrichment. Never persisted.
	AccessToken string
}

// Info is the provider's generic user-facing profile block.
type Info struct {
	Name     string
	Email    string
	Nickname string
	Image    string
}
