package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// OIDCServer is a fake identity provider for tests. It serves a discovery
// document and a JWKS over httptest and mints tokens signed with its keys so
// connector and handler tests can exercise the full verification path.
type OIDCServer struct {
	Server   *httptest.Server
	ClientID string
	Secret   string

	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
	rsaKid string
	ecKid  string
}

// NewOIDCServer starts a fake provider with one RSA and one EC signing key.
// The caller owns shutdown via t.Cleanup, registered here.
func NewOIDCServer(t *testing.T, clientID string) *OIDCServer {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	s := &OIDCServer{
		ClientID: clientID,
		Secret:   "test-client-secret",
		rsaKey:   rsaKey,
		ecKey:    ecKey,
		rsaKid:   "test-rsa-key",
		ecKid:    "test-ec-key",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/jwks", s.handleJWKS)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)

	return s
}

// URL returns the issuer base URI.
func (s *OIDCServer) URL() string { return s.Server.URL }

// TokenOption mutates the claim set before signing.
type TokenOption func(jwt.MapClaims)

// WithClaim sets or overrides a single claim.
func WithClaim(name string, value any) TokenOption {
	return func(claims jwt.MapClaims) { claims[name] = value }
}

// WithoutClaim removes a claim from the default set.
func WithoutClaim(name string) TokenOption {
	return func(claims jwt.MapClaims) { delete(claims, name) }
}

func (s *OIDCServer) defaultClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   s.Server.URL,
		"aud":   s.ClientID,
		"sub":   sub,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "openid profile email",
	}
}

// SignRS256 mints an RS256 token carrying the server's RSA kid.
func (s *OIDCServer) SignRS256(t *testing.T, sub string, opts ...TokenOption) string {
	t.Helper()
	claims := s.defaultClaims(sub)
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.rsaKid
	signed, err := token.SignedString(s.rsaKey)
	require.NoError(t, err)
	return signed
}

// SignRS256NoKid mints an RS256 token without a kid header, forcing the
// verifier onto the trial-over-keys path.
func (s *OIDCServer) SignRS256NoKid(t *testing.T, sub string, opts ...TokenOption) string {
	t.Helper()
	claims := s.defaultClaims(sub)
	for _, opt := range opts {
		opt(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.rsaKey)
	require.NoError(t, err)
	return signed
}

// SignES256 mints an ES256 token carrying the server's EC kid.
func (s *OIDCServer) SignES256(t *testing.T, sub string, opts ...TokenOption) string {
	t.Helper()
	claims := s.defaultClaims(sub)
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.ecKid
	signed, err := token.SignedString(s.ecKey)
	require.NoError(t, err)
	return signed
}

// SignHS256 mints an HS256 token signed with the shared client secret.
func (s *OIDCServer) SignHS256(t *testing.T, sub string, opts ...TokenOption) string {
	t.Helper()
	claims := s.defaultClaims(sub)
	for _, opt := range opts {
		opt(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	require.NoError(t, err)
	return signed
}

// SignWithForeignKey mints an RS256 token signed by a key the JWKS does not
// contain, reusing the server's RSA kid so kid lookup succeeds but
// verification fails.
func (s *OIDCServer) SignWithForeignKey(t *testing.T, sub string) string {
	t.Helper()
	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, s.defaultClaims(sub))
	token.Header["kid"] = s.rsaKid
	signed, err := token.SignedString(foreign)
	require.NoError(t, err)
	return signed
}

func (s *OIDCServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"issuer":                 s.Server.URL,
		"jwks_uri":               s.Server.URL + "/jwks",
		"authorization_endpoint": s.Server.URL + "/authorize",
		"token_endpoint":         s.Server.URL + "/token",
		"userinfo_endpoint":      s.Server.URL + "/userinfo",
		"end_session_endpoint":   s.Server.URL + "/logout",
	})
}

func (s *OIDCServer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &s.rsaKey.PublicKey
	// Fixed-width coordinates; EC points must not drop leading zero bytes.
	ecX := make([]byte, 32)
	ecY := make([]byte, 32)
	s.ecKey.PublicKey.X.FillBytes(ecX)
	s.ecKey.PublicKey.Y.FillBytes(ecY)
	writeJSON(w, map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": s.rsaKid,
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
			{
				"kty": "EC",
				"kid": s.ecKid,
				"alg": "ES256",
				"use": "sig",
				"crv": "P-256",
				"x":   base64.RawURLEncoding.EncodeToString(ecX),
				"y":   base64.RawURLEncoding.EncodeToString(ecY),
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
