package oidc

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "tunnus/pkg/domain-errors"
)

var errUnsupportedKeyType = errors.New("unsupported key type")

// DecodedToken is a structurally parsed but unverified compact JWT. It exists
// so the verifier can pick a verification strategy from the header before any
// signature check runs. Claims must not be trusted until VerifySignature has
// accepted the token.
type DecodedToken struct {
	Raw       string
	Algorithm string
	KeyID     string
	Claims    jwt.MapClaims
}

// DecodeToken parses the compact JWT without verifying it. Anything that is
// not a well-formed three-part token fails with an invalid-token error; the
// underlying parser error is wrapped, never returned as-is.
func DecodeToken(raw string) (*DecodedToken, error) {
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "malformed token")
	}

	alg, _ := token.Header["alg"].(string)
	if alg == "" {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "token header is missing alg")
	}
	kid, _ := token.Header["kid"].(string)

	return &DecodedToken{
		Raw:       raw,
		Algorithm: alg,
		KeyID:     kid,
		Claims:    claims,
	}, nil
}

// Subject returns the unverified sub claim, empty when absent.
func (t *DecodedToken) Subject() string {
	sub, _ := t.Claims.GetSubject()
	return sub
}
