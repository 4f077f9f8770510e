package authentication

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"tunnus/internal/identity"
	"tunnus/internal/verification"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/requestcontext"
)

// Config tunes the reconciliation behavior.
type Config struct {
	// AuthorizationName is the name granted authorizations are created
	// under. One authorization of this name may exist per user.
	AuthorizationName string
	// EmailPrefix is the local-part prefix of synthesized placeholder
	// addresses.
	EmailPrefix string
	// AutoEmailDomain, when set, overrides the organization host as the
	// domain of synthesized addresses.
	AutoEmailDomain string
	// UntrustedEmailProviders lists authentication method references whose
	// email claims are never trusted, even when marked verified.
	UntrustedEmailProviders []string
}

func (c Config) withDefaults() Config {
	if c.AuthorizationName == "" {
		c.AuthorizationName = "external_idp"
	}
	if c.EmailPrefix == "" {
		c.EmailPrefix = "helsinki"
	}
	return c
}

// Authenticator reconciles one provider callback against the identity
// store. It is request scoped: construct a fresh one per callback via
// Service.Authenticator.
type Authenticator struct {
	cfg       Config
	collector *verification.Collector

	org     Organization
	payload Payload
	profile *verification.ProfileAttributes

	identities     identity.IdentityStore
	authorizations identity.AuthorizationStore

	metadata *verification.PersonMetadata
}

// Metadata returns the collected person metadata for this callback,
// computing it on first use.
func (a *Authenticator) Metadata() verification.PersonMetadata {
	if a.metadata == nil {
		meta := a.collector.Collect(a.payload.RawInfo, a.profile)
		a.metadata = &meta
	}
	return *a.metadata
}

// Signature is the deterministic authorization unique ID derived from the
// provider and its subject.
func (a *Authenticator) Signature() string {
	return a.collector.IdentitySignature(a.payload.Provider, a.payload.UID)
}

// EmailConfirmed reports whether the provider-supplied email can be trusted
// as verified. Providers on the untrusted list never confirm an email, no
// matter what their claims say.
func (a *Authenticator) EmailConfirmed() bool {
	if a.untrustedEmailProvider() {
		return false
	}
	verified, _ := a.payload.RawInfo["email_verified"].(bool)
	return verified && a.payload.Info.Email != ""
}

func (a *Authenticator) untrustedEmailProvider() bool {
	if len(a.cfg.UntrustedEmailProviders) == 0 {
		return false
	}
	services := a.Metadata().Service
	return slices.ContainsFunc(a.cfg.UntrustedEmailProviders, func(untrusted string) bool {
		return slices.Contains(services, untrusted)
	})
}

// VerifiedEmail returns the address the platform account should carry: the
// provider email when confirmed, otherwise a deterministic placeholder so
// repeat logins of an unconfirmed account keep resolving to the same user.
func (a *Authenticator) VerifiedEmail() string {
	if a.EmailConfirmed() {
		return a.payload.Info.Email
	}
	digest := a.Metadata().PersonIdentifierDigest
	if digest == "" {
		return ""
	}
	domain := a.cfg.AutoEmailDomain
	if domain == "" {
		domain = a.org.Host
	}
	return fmt.Sprintf("%s-%s@%s", a.cfg.EmailPrefix, digest, domain)
}

// Validate checks that the callback carries enough data to reconcile.
// Side-effect free.
func (a *Authenticator) Validate() error {
	if a.payload.UID == "" {
		return dErrors.New(dErrors.CodeValidation, "missing identifier")
	}
	if a.Metadata().PersonIdentifierDigest == "" {
		return dErrors.New(dErrors.CodeValidation, "missing person identifier")
	}
	return nil
}

// IdentifyUser binds the provider identity to the user. Idempotent when the
// identity already belongs to the user; a hard failure when it belongs to
// someone else.
func (a *Authenticator) IdentifyUser(ctx context.Context, user identity.User) (identity.Identity, error) {
	existing, err := a.identities.Find(ctx, a.org.Slug, a.payload.Provider, a.payload.UID)
	if err == nil {
		if existing.UserID != user.ID {
			return identity.Identity{}, dErrors.New(dErrors.CodeIdentityBoundToOtherUser, "identity is bound to another user")
		}
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return identity.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "identity lookup failed")
	}

	created := identity.Identity{
		ID:           uuid.New(),
		UserID:       user.ID,
		Organization: a.org.Slug,
		Provider:     a.payload.Provider,
		UID:          a.payload.UID,
		CreatedAt:    requestcontext.Now(ctx),
	}
	err = a.identities.Create(ctx, created)
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost a race with a concurrent first login. Re-resolve against the
		// winner instead of surfacing the raw constraint violation.
		winner, findErr := a.identities.Find(ctx, a.org.Slug, a.payload.Provider, a.payload.UID)
		if findErr == nil && winner.UserID == user.ID {
			return winner, nil
		}
		return identity.Identity{}, dErrors.New(dErrors.CodeIdentityBoundToOtherUser, "identity is bound to another user")
	}
	if err != nil {
		return identity.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "identity creation failed")
	}
	return created, nil
}

// AuthorizeUser grants or renews the verification authorization for the
// user. The unique ID and metadata are always rewritten; the pseudonymized
// pin is written only once; grantedAt is refreshed on every success so a
// re-authorization extends any expiry window.
func (a *Authenticator) AuthorizeUser(ctx context.Context, user identity.User) (identity.Authorization, error) {
	now := requestcontext.Now(ctx)

	authorization, err := a.authorizations.FindByUniqueID(ctx, a.cfg.AuthorizationName, a.Signature())
	switch {
	case err == nil:
		if authorization.UserID != user.ID {
			return identity.Authorization{}, dErrors.New(dErrors.CodeAuthorizationBoundToOtherUser, "authorization is bound to another user")
		}
	case errors.Is(err, sentinel.ErrNotFound):
		// The user may hold an authorization of this name under an older
		// signature; reuse it rather than violating the one-per-user rule.
		authorization, err = a.authorizations.FindByUser(ctx, user.ID, a.cfg.AuthorizationName)
		if errors.Is(err, sentinel.ErrNotFound) {
			return a.createAuthorization(ctx, user, now)
		}
		if err != nil {
			return identity.Authorization{}, dErrors.Wrap(err, dErrors.CodeInternal, "authorization lookup failed")
		}
	default:
		return identity.Authorization{}, dErrors.Wrap(err, dErrors.CodeInternal, "authorization lookup failed")
	}

	a.applyGrant(&authorization, now)
	if err := a.authorizations.Update(ctx, authorization); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return identity.Authorization{}, dErrors.New(dErrors.CodeAuthorizationBoundToOtherUser, "authorization is bound to another user")
		}
		return identity.Authorization{}, dErrors.Wrap(err, dErrors.CodeInternal, "authorization update failed")
	}
	return authorization, nil
}

func (a *Authenticator) createAuthorization(ctx context.Context, user identity.User, now time.Time) (identity.Authorization, error) {
	authorization := identity.Authorization{
		ID:        uuid.New(),
		UserID:    user.ID,
		Name:      a.cfg.AuthorizationName,
		CreatedAt: now,
	}
	a.applyGrant(&authorization, now)

	err := a.authorizations.Create(ctx, authorization)
	if errors.Is(err, sentinel.ErrConflict) {
		// Concurrent grant for the same person. If the winning row belongs
		// to this user the retry path is an update; otherwise the signature
		// is claimed by someone else.
		winner, findErr := a.authorizations.FindByUniqueID(ctx, a.cfg.AuthorizationName, a.Signature())
		if findErr == nil && winner.UserID == user.ID {
			a.applyGrant(&winner, now)
			if updateErr := a.authorizations.Update(ctx, winner); updateErr != nil {
				return identity.Authorization{}, dErrors.Wrap(updateErr, dErrors.CodeInternal, "authorization update failed")
			}
			return winner, nil
		}
		return identity.Authorization{}, dErrors.New(dErrors.CodeAuthorizationBoundToOtherUser, "authorization is bound to another user")
	}
	if err != nil {
		return identity.Authorization{}, dErrors.Wrap(err, dErrors.CodeInternal, "authorization creation failed")
	}
	return authorization, nil
}

func (a *Authenticator) applyGrant(authorization *identity.Authorization, now time.Time) {
	meta := a.Metadata()
	if authorization.PseudonymizedPIN == "" && meta.NationalIDDigest != "" {
		authorization.PseudonymizedPIN = meta.NationalIDDigest
	}
	authorization.UniqueID = a.Signature()
	authorization.Metadata = meta
	authorization.GrantedAt = now
	authorization.UpdatedAt = now
}
