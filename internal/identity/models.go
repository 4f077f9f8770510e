// Package identity holds the platform-side account records the
// authentication flow reconciles against: users, their provider identities
// and the granted verification authorizations.
package identity

import (
	"time"

	"github.com/google/uuid"

	"tunnus/internal/verification"
)

// User is a platform account scoped to one organization.
type User struct {
	ID           uuid.UUID
	Organization string
	Email        string
	Name         string
	Nickname     string
	Locale       string
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Deleted reports whether the account has been soft deleted. Deleted users
// keep their row so digests remain unique, but they can no longer be
// identified or authorized.
func (u User) Deleted() bool {
	return u.DeletedAt != nil
}

// Identity binds a provider subject to a user. At most one identity may
// exist per (organization, provider, uid) triple.
type Identity struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Organization string
	Provider     string
	UID          string
	CreatedAt    time.Time
}

// Authorization is a granted verification: the pseudonymous record that a
// user has proven who they are through a strong identity provider.
//
// UniqueID is the digest of the provider identity (provider plus uid) and
// is unique per authorization name. PseudonymizedPIN is the person
// identifier digest, written once on first grant and never overwritten
// afterwards, so the person-level correlation handle survives
// re-authentication with changed provider data.
type Authorization struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Name             string
	UniqueID         string
	PseudonymizedPIN string
	Metadata         verification.PersonMetadata
	GrantedAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
