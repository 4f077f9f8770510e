package identity

import (
	"context"

	"github.com/google/uuid"
)

// Stores return pkg/platform/sentinel errors for the cross-cutting cases:
// sentinel.ErrNotFound when a record does not exist and sentinel.ErrConflict
// when a uniqueness constraint would be violated. Callers translate those
// into domain errors.

type UserStore interface {
	// Save upserts the user by ID.
	Save(ctx context.Context, user User) error
	FindByID(ctx context.Context, organization string, id uuid.UUID) (User, error)
	FindByEmail(ctx context.Context, organization, email string) (User, error)
}

type IdentityStore interface {
	// Create fails with sentinel.ErrConflict when an identity already exists
	// for the same (organization, provider, uid) triple.
	Create(ctx context.Context, identity Identity) error
	Find(ctx context.Context, organization, provider, uid string) (Identity, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type AuthorizationStore interface {
	// Create fails with sentinel.ErrConflict when the (name, unique_id) pair
	// or the (user, name) pair is already taken.
	Create(ctx context.Context, authorization Authorization) error
	// Update rewrites the mutable fields of an existing authorization.
	Update(ctx context.Context, authorization Authorization) error
	FindByUniqueID(ctx context.Context, name, uniqueID string) (Authorization, error)
	FindByUser(ctx context.Context, userID uuid.UUID, name string) (Authorization, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}
