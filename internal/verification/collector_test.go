package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorDigests(t *testing.T) {
	collector := NewCollector("digest-secret")

	t.Run("person identifier digest is a stable md5 of subject and secret", func(t *testing.T) {
		digest := collector.PersonIdentifierDigest("provider-sub-123")
		assert.Equal(t, "8d3c6b6fd3a0e9a963b7a0b61264e430", digest)
		assert.Equal(t, digest, collector.PersonIdentifierDigest("provider-sub-123"))
	})

	t.Run("national id digest carries the country prefix", func(t *testing.T) {
		digest := collector.NationalIDDigest("070595-987W")
		assert.Equal(t, "8ed802efaf672a95a0b80b8e137ee630", digest)
	})

	t.Run("different secrets produce different digests", func(t *testing.T) {
		other := NewCollector("another-secret")
		assert.NotEqual(t,
			collector.PersonIdentifierDigest("provider-sub-123"),
			other.PersonIdentifierDigest("provider-sub-123"),
		)
	})

	t.Run("empty inputs produce empty digests", func(t *testing.T) {
		assert.Empty(t, collector.PersonIdentifierDigest(""))
		assert.Empty(t, collector.NationalIDDigest(""))
	})
}

func TestCollectorCollect(t *testing.T) {
	collector := NewCollector("digest-secret")

	baseClaims := Claims{
		"sub":             "provider-sub-123",
		"name":            "Marja Mainio",
		"given_name":      "Marja",
		"family_name":     "Mainio",
		"amr":             []any{"suomi_fi"},
		"national_id_num": "070595-987W",
	}

	t.Run("collects person fields and digests from claims", func(t *testing.T) {
		meta := collector.Collect(baseClaims, nil)

		assert.Equal(t, []string{"suomi_fi"}, meta.Service)
		assert.Equal(t, "Marja Mainio", meta.Name)
		assert.Equal(t, "Marja", meta.FirstName)
		assert.Equal(t, "Marja", meta.GivenName)
		assert.Equal(t, "Mainio", meta.LastName)
		assert.Equal(t, "m", meta.Gender)
		assert.Equal(t, "1995-05-07", meta.DateOfBirth)
		assert.Equal(t, "8d3c6b6fd3a0e9a963b7a0b61264e430", meta.PersonIdentifierDigest)
		assert.Equal(t, "8ed802efaf672a95a0b80b8e137ee630", meta.NationalIDDigest)
	})

	t.Run("invalid identity code contributes nothing", func(t *testing.T) {
		claims := Claims{
			"sub":             "provider-sub-123",
			"national_id_num": "not-a-code",
		}
		meta := collector.Collect(claims, nil)

		assert.Empty(t, meta.Gender)
		assert.Empty(t, meta.DateOfBirth)
		assert.Empty(t, meta.NationalIDDigest)
		assert.NotEmpty(t, meta.PersonIdentifierDigest)
	})

	t.Run("verified personal information wins over claims", func(t *testing.T) {
		profile := &ProfileAttributes{
			FirstName: "M.",
			LastName:  "M.",
			Verified: &VerifiedPersonalInformation{
				FirstName:    "Marja Liisa",
				GivenName:    "Marja",
				LastName:     "Mainio-Virtanen",
				NationalID:   "150785-994A",
				Municipality: "Helsinki",
				PostalCode:   "00100",
			},
		}
		meta := collector.Collect(baseClaims, profile)

		assert.Equal(t, "Marja Liisa", meta.FirstName)
		assert.Equal(t, "Mainio-Virtanen", meta.LastName)
		assert.Equal(t, "Helsinki", meta.Municipality)
		assert.Equal(t, "00100", meta.PostalCode)
		assert.Equal(t, "f", meta.Gender)
		assert.Equal(t, "1985-07-15", meta.DateOfBirth)
		assert.Equal(t, collector.NationalIDDigest("150785-994A"), meta.NationalIDDigest)
	})

	t.Run("profile attributes override claims where present", func(t *testing.T) {
		profile := &ProfileAttributes{FirstName: "Marja Liisa"}
		meta := collector.Collect(baseClaims, profile)

		assert.Equal(t, "Marja Liisa", meta.FirstName)
		assert.Equal(t, "Mainio", meta.LastName)
		assert.Equal(t, collector.NationalIDDigest("070595-987W"), meta.NationalIDDigest)
	})

	t.Run("missing subject leaves the identifier digest empty", func(t *testing.T) {
		meta := collector.Collect(Claims{"name": "Anonymous"}, nil)
		require.Empty(t, meta.PersonIdentifierDigest)
	})
}
