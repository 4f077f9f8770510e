package verification

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Claims is the raw claim set of a verified token, as produced by the OIDC
// connector. Values are the decoded JSON types.
type Claims map[string]any

func (c Claims) str(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Claims) strings(name string) []string {
	switch v := c[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// ProfileAttributes is the optional enrichment fetched from the provider's
// profile API. When present it takes precedence over the token claims; it is
// never required for an authentication to succeed.
type ProfileAttributes struct {
	FirstName     string
	LastName      string
	Nickname      string
	Email         string
	EmailVerified bool
	Verified      *VerifiedPersonalInformation
}

// VerifiedPersonalInformation is the strongly verified sub-object of the
// profile API, populated from the national population register.
type VerifiedPersonalInformation struct {
	FirstName    string
	GivenName    string
	LastName     string
	NationalID   string
	Municipality string
	PostalCode   string
}

// PersonMetadata is stored as the authorization's metadata blob. All fields
// are best effort except the person identifier digest, which the
// authenticator requires.
type PersonMetadata struct {
	Service      []string `json:"service,omitempty"`
	Name         string   `json:"name,omitempty"`
	FirstName    string   `json:"first_name,omitempty"`
	GivenName    string   `json:"given_name,omitempty"`
	LastName     string   `json:"last_name,omitempty"`
	ADGroups     []string `json:"ad_groups,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	DateOfBirth  string   `json:"date_of_birth,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Municipality string   `json:"municipality,omitempty"`

	// PersonIdentifierDigest detects re-authentication by the same provider
	// subject. Not reversible.
	PersonIdentifierDigest string `json:"person_identifier_digest,omitempty"`
	// NationalIDDigest correlates the same natural person across different
	// authentication methods, independent of the provider subject.
	NationalIDDigest string `json:"pin_digest,omitempty"`
}

// Collector turns raw provider claims plus optional profile enrichment into
// a PersonMetadata record. The digest secret must be stable across restarts;
// repeat authentications by the same person have to produce byte-identical
// digests or duplicate detection breaks.
type Collector struct {
	secret string
}

func NewCollector(secret string) *Collector {
	return &Collector{secret: secret}
}

// Collect builds the metadata record. Field preference order: verified
// personal information from the profile API, then profile-level attributes,
// then the token claims. A structurally invalid national identity code
// contributes nothing; it never fails the collection.
func (c *Collector) Collect(claims Claims, profile *ProfileAttributes) PersonMetadata {
	meta := PersonMetadata{
		Service:   claims.strings("amr"),
		Name:      claims.str("name"),
		FirstName: firstNonEmpty(claims.str("first_name"), claims.str("given_name")),
		GivenName: claims.str("given_name"),
		LastName:  firstNonEmpty(claims.str("family_name"), claims.str("last_name")),
		ADGroups:  claims.strings("ad_groups"),

		PersonIdentifierDigest: c.PersonIdentifierDigest(claims.str("sub")),
	}

	nationalID := claims.str("national_id_num")

	if profile != nil {
		meta.FirstName = firstNonEmpty(profile.FirstName, meta.FirstName)
		meta.LastName = firstNonEmpty(profile.LastName, meta.LastName)

		if vpi := profile.Verified; vpi != nil {
			meta.FirstName = firstNonEmpty(vpi.FirstName, meta.FirstName)
			meta.GivenName = firstNonEmpty(vpi.GivenName, meta.GivenName)
			meta.LastName = firstNonEmpty(vpi.LastName, meta.LastName)
			meta.Municipality = vpi.Municipality
			meta.PostalCode = vpi.PostalCode
			nationalID = firstNonEmpty(vpi.NationalID, nationalID)
		}
	}

	if nationalID != "" {
		if hetu, err := ParseHetu(nationalID); err == nil {
			meta.Gender = hetu.Gender
			meta.DateOfBirth = hetu.ISODate()
			meta.NationalIDDigest = c.NationalIDDigest(nationalID)
		}
	}

	return meta
}

// PersonIdentifierDigest is the one-way digest of the provider subject.
// Deterministic for a fixed secret; empty when the subject is missing.
//
// MD5 is deliberate: the digest is a pseudonymization control compatible
// with records produced by earlier versions of the platform, not a security
// boundary.
func (c *Collector) PersonIdentifierDigest(subject string) string {
	if subject == "" {
		return ""
	}
	return md5hex(fmt.Sprintf("%s:%s", subject, c.secret))
}

// IdentitySignature is the deterministic signature of a provider identity,
// used as the authorization unique ID.
func (c *Collector) IdentitySignature(provider, uid string) string {
	return md5hex(fmt.Sprintf("%s-%s-%s", provider, uid, c.secret))
}

// NationalIDDigest is the one-way digest of a validated national identity
// code, prefixed with the country code.
func (c *Collector) NationalIDDigest(nationalID string) string {
	if nationalID == "" {
		return ""
	}
	return md5hex(fmt.Sprintf("FI:%s:%s", nationalID, c.secret))
}

func md5hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
