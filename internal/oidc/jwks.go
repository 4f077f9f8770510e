package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
)

// SigningKey is one entry of the provider's JWKS with its key material parsed
// into a crypto.PublicKey usable by the JWT library.
type SigningKey struct {
	ID        string
	Algorithm string
	Use       string
	PublicKey crypto.PublicKey
}

// jwkSet mirrors the wire format of a JSON Web Key Set. Only the fields the
// verifier needs are decoded.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`

	// RSA
	N string `json:"n"`
	E string `json:"e"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// signingKeys parses every supported key in the set. Malformed or unsupported
// entries are skipped rather than failing the whole set; a missing key
// surfaces later as a verification failure, which is the error the caller
// reports anyway.
func (s jwkSet) signingKeys() []SigningKey {
	keys := make([]SigningKey, 0, len(s.Keys))
	for _, k := range s.Keys {
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys = append(keys, SigningKey{
			ID:        k.Kid,
			Algorithm: k.Alg,
			Use:       k.Use,
			PublicKey: pub,
		})
	}
	return keys
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		return k.rsaKey()
	case "EC":
		return k.ecKey()
	default:
		return nil, errUnsupportedKeyType
	}
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

func (k jwk) ecKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, errUnsupportedKeyType
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, err
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}
