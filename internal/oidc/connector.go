package oidc

import (
	"context"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"

	dErrors "tunnus/pkg/domain-errors"
)

var tracer = otel.Tracer("tunnus/oidc")

// IdentityClaims is the verified output of a successful Authorize call. It is
// only constructed after signature, issuer, audience and (when requested)
// nonce and expected-subject checks have all passed.
type IdentityClaims struct {
	Subject string
	Scope   []string
	Raw     jwt.MapClaims
}

// HasScope reports whether the token's scope set contains the given scope.
func (c *IdentityClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scope, scope)
}

// Connector authorizes bearer tokens against one OIDC server identity.
//
// A connector is request-scoped and single-use: it starts unauthorized,
// transitions to authorized on a successful Authorize call and never
// transitions back. ValidateScope only answers for the token that authorized
// this instance, so verified claims cannot leak across requests. Build a new
// connector for every request.
type Connector struct {
	server    Server
	cfg       ServerConfig
	discovery *Discovery

	claims *IdentityClaims
}

// NewConnector builds a connector for the given server identity. The
// discovery cache is shared; the connector itself holds no cross-request
// state.
func NewConnector(discovery *Discovery, server Server) *Connector {
	return &Connector{server: server, discovery: discovery}
}

// AuthorizeOption adjusts the claim checks a single Authorize call performs.
type AuthorizeOption func(*authorizeChecks)

type authorizeChecks struct {
	nonce           string
	expectedSubject string
}

// WithNonce requires the token's nonce claim to equal the given value.
func WithNonce(nonce string) AuthorizeOption {
	return func(c *authorizeChecks) { c.nonce = nonce }
}

// WithExpectedSubject requires the token's sub claim to equal the given
// value. The GDPR API uses this to bind the token to the profile being
// addressed.
func WithExpectedSubject(sub string) AuthorizeOption {
	return func(c *authorizeChecks) { c.expectedSubject = sub }
}

// AuthorizeHeader extracts the bearer token from an Authorization header
// value and authorizes it. A missing or malformed header is an invalid-token
// failure, indistinguishable from a bad token for the caller.
func (c *Connector) AuthorizeHeader(ctx context.Context, header string, opts ...AuthorizeOption) (*IdentityClaims, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "missing bearer token")
	}
	return c.Authorize(ctx, strings.TrimSpace(token), opts...)
}

// Authorize verifies a raw bearer token end to end: structural decode,
// signature verification against discovered keys, then issuer, audience and
// optional nonce / expected-subject validation. On success the verified
// claims are retained for ValidateScope within this request.
func (c *Connector) Authorize(ctx context.Context, rawToken string, opts ...AuthorizeOption) (*IdentityClaims, error) {
	ctx, span := tracer.Start(ctx, "oidc.Authorize")
	defer span.End()

	var checks authorizeChecks
	for _, opt := range opts {
		opt(&checks)
	}

	cfg, err := c.discovery.ServerConfig(c.server)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg

	decoded, err := DecodeToken(rawToken)
	if err != nil {
		return nil, err
	}

	meta, err := c.discovery.Metadata(ctx, c.server)
	if err != nil {
		return nil, err
	}

	claims, err := VerifySignature(decoded, meta, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}

	if err := c.validateClaims(claims, meta, checks); err != nil {
		return nil, err
	}

	sub, _ := claims.GetSubject()
	c.claims = &IdentityClaims{
		Subject: sub,
		Scope:   scopeSet(claims["scope"]),
		Raw:     claims,
	}
	return c.claims, nil
}

func (c *Connector) validateClaims(claims jwt.MapClaims, meta *ProviderMetadata, checks authorizeChecks) error {
	issuer, err := claims.GetIssuer()
	if err != nil || issuer != meta.Issuer {
		return dErrors.New(dErrors.CodeInvalidToken, "token issuer does not match the discovered issuer")
	}

	audience, err := claims.GetAudience()
	if err != nil || !slices.Contains(audience, c.cfg.ClientID) {
		return dErrors.New(dErrors.CodeInvalidToken, "token audience does not include this client")
	}

	if checks.nonce != "" {
		nonce, _ := claims["nonce"].(string)
		if nonce != checks.nonce {
			return dErrors.New(dErrors.CodeInvalidToken, "token nonce mismatch")
		}
	}

	// A missing subject is only a token failure when the caller pinned
	// one; otherwise downstream validation decides what an empty subject
	// means.
	if checks.expectedSubject != "" {
		sub, err := claims.GetSubject()
		if err != nil || sub != checks.expectedSubject {
			return dErrors.New(dErrors.CodeInvalidToken, "token subject mismatch")
		}
	}

	return nil
}

// ValidateScope fails when no token has been authorized on this connector,
// when the authorized token carries no scopes, or when the requested scope is
// not among them.
func (c *Connector) ValidateScope(requestedScope string) error {
	if c.claims == nil {
		return dErrors.New(dErrors.CodeInvalidToken, "no token authorized on this connector")
	}
	if len(c.claims.Scope) == 0 {
		return dErrors.New(dErrors.CodeInvalidScope, "token carries no scopes")
	}
	if !c.claims.HasScope(requestedScope) {
		return dErrors.Newf(dErrors.CodeInvalidScope, "token scope does not include %q", requestedScope)
	}
	return nil
}

// Claims returns the verified claims of the authorized token, or nil when
// Authorize has not succeeded on this connector.
func (c *Connector) Claims() *IdentityClaims { return c.claims }

// scopeSet normalizes the scope claim, which providers encode either as a
// space-delimited string or as an array, into a deduplicated slice.
func scopeSet(raw any) []string {
	var scopes []string
	switch v := raw.(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	case []string:
		scopes = v
	}

	seen := make(map[string]bool, len(scopes))
	out := scopes[:0]
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
