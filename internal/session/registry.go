// Package session tracks the provider session of each login so a
// back-channel logout from the identity provider can terminate the matching
// local session. The registry is keyed by the provider's sid claim.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/requestcontext"
)

// Entry binds a provider session to a platform user.
type Entry struct {
	SID          string    `json:"sid"`
	UserID       uuid.UUID `json:"user_id"`
	Organization string    `json:"organization"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists session entries with a bounded lifetime.
type Store interface {
	Put(ctx context.Context, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, sid string) (Entry, error)
	Delete(ctx context.Context, sid string) error
	// DeleteByUser removes every session of a user, returning how many
	// were removed.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// Registry is the session-tracking facade used by the login and logout
// flows.
type Registry struct {
	store Store
	ttl   time.Duration
}

// NewRegistry builds a registry. Entries expire after ttl; a zero ttl
// defaults to twelve hours, comfortably past the provider's own session
// lifetime.
func NewRegistry(store Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Registry{store: store, ttl: ttl}
}

// Track records a fresh login's provider session. Logins without a sid
// claim are not tracked; they simply cannot be logged out through the back
// channel.
func (r *Registry) Track(ctx context.Context, sid string, userID uuid.UUID, organization string) error {
	if sid == "" {
		return nil
	}
	entry := Entry{
		SID:          sid,
		UserID:       userID,
		Organization: organization,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := r.store.Put(ctx, entry, r.ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "session tracking failed")
	}
	return nil
}

// Logout resolves and removes the session for a provider sid, returning the
// entry that was terminated. An unknown or already expired sid is a
// not-found failure, which back-channel logout callers treat as success.
func (r *Registry) Logout(ctx context.Context, sid string) (Entry, error) {
	entry, err := r.store.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Entry{}, dErrors.New(dErrors.CodeNotFound, "unknown session")
		}
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "session lookup failed")
	}
	if err := r.store.Delete(ctx, sid); err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "session removal failed")
	}
	return entry, nil
}

// RevokeUser terminates every tracked session of a user. Used when an
// account is erased so no provider session can keep acting for it.
func (r *Registry) RevokeUser(ctx context.Context, userID uuid.UUID) (int, error) {
	removed, err := r.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "session revocation failed")
	}
	return removed, nil
}
