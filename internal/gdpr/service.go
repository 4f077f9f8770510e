package gdpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tunnus/internal/identity"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/platform/audit"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/requestcontext"
)

var tracer = otel.Tracer("tunnus/gdpr")

// Config binds the export and erasure operations to the provider the
// profile UUIDs belong to.
type Config struct {
	// Provider is the identity provider name GDPR subjects are resolved
	// through.
	Provider string
	// AuthorizationName is the authorization whose metadata is exported.
	AuthorizationName string
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "helsinki"
	}
	if c.AuthorizationName == "" {
		c.AuthorizationName = "external_idp"
	}
	return c
}

// Service implements the GDPR profile operations against the identity
// stores.
type Service struct {
	cfg            Config
	users          identity.UserStore
	identities     identity.IdentityStore
	authorizations identity.AuthorizationStore
	sessions       SessionRevoker
	transact       Transactor
	recorder       *audit.Recorder
	logger         *slog.Logger
}

// Transactor runs fn atomically. The default runs it directly, which is
// what the in-memory stores need.
type Transactor func(ctx context.Context, fn func(ctx context.Context) error) error

// SessionRevoker terminates every active session of a user. Satisfied by
// the session registry.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithSessionRevoker makes erasure terminate the account's live sessions.
func WithSessionRevoker(sessions SessionRevoker) ServiceOption {
	return func(s *Service) { s.sessions = sessions }
}

// WithTransactor makes erasure run its store mutations atomically.
func WithTransactor(transact Transactor) ServiceOption {
	return func(s *Service) { s.transact = transact }
}

// WithAuditRecorder enables compliance audit events.
func WithAuditRecorder(recorder *audit.Recorder) ServiceOption {
	return func(s *Service) { s.recorder = recorder }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func NewService(
	cfg Config,
	users identity.UserStore,
	identities identity.IdentityStore,
	authorizations identity.AuthorizationStore,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		cfg:            cfg.withDefaults(),
		users:          users,
		identities:     identities,
		authorizations: authorizations,
		transact: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveUser maps a profile UUID to the platform account through the
// provider identity. Unknown and deleted profiles are indistinguishable to
// the caller.
func (s *Service) resolveUser(ctx context.Context, organization, profileUUID string) (identity.User, error) {
	boundIdentity, err := s.identities.Find(ctx, organization, s.cfg.Provider, profileUUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return identity.User{}, dErrors.New(dErrors.CodeNotFound, "unknown profile")
		}
		return identity.User{}, dErrors.Wrap(err, dErrors.CodeInternal, "identity lookup failed")
	}

	user, err := s.users.FindByID(ctx, organization, boundIdentity.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return identity.User{}, dErrors.New(dErrors.CodeNotFound, "unknown profile")
		}
		return identity.User{}, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
	}
	if user.Deleted() {
		return identity.User{}, dErrors.New(dErrors.CodeNotFound, "unknown profile")
	}
	return user, nil
}

// ExportProfile returns everything stored about the profile in the
// broker's export tree format.
func (s *Service) ExportProfile(ctx context.Context, organization, profileUUID string) ([]Node, error) {
	ctx, span := tracer.Start(ctx, "gdpr.ExportProfile",
		trace.WithAttributes(attribute.String("organization", organization)))
	defer span.End()

	user, err := s.resolveUser(ctx, organization, profileUUID)
	if err != nil {
		return nil, err
	}

	var authorization *identity.Authorization
	found, err := s.authorizations.FindByUser(ctx, user.ID, s.cfg.AuthorizationName)
	if err == nil {
		authorization = &found
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "authorization lookup failed")
	}

	s.record(ctx, audit.KindProfileExported, organization, user)
	return serializeProfile(user, authorization), nil
}

// DeleteProfile erases the account: provider identities and authorizations
// are removed and the user row is scrubbed and soft deleted. With dryRun
// set, only the resolution and validation run; nothing is mutated.
func (s *Service) DeleteProfile(ctx context.Context, organization, profileUUID string, dryRun bool) error {
	ctx, span := tracer.Start(ctx, "gdpr.DeleteProfile",
		trace.WithAttributes(
			attribute.String("organization", organization),
			attribute.Bool("dry_run", dryRun),
		))
	defer span.End()

	user, err := s.resolveUser(ctx, organization, profileUUID)
	if err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	err = s.transact(ctx, func(ctx context.Context) error {
		if err := s.identities.DeleteByUser(ctx, user.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "identity erasure failed")
		}
		if err := s.authorizations.DeleteByUser(ctx, user.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "authorization erasure failed")
		}

		now := requestcontext.Now(ctx)
		scrubbed := user
		scrubbed.Email = fmt.Sprintf("deleted-%s@deleted.invalid", user.ID)
		scrubbed.Name = ""
		scrubbed.Nickname = ""
		scrubbed.DeletedAt = &now
		scrubbed.UpdatedAt = now
		if err := s.users.Save(ctx, scrubbed); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "user erasure failed")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.sessions != nil {
		if _, err := s.sessions.RevokeUser(ctx, user.ID); err != nil {
			// The account is already erased; session expiry bounds the
			// exposure, so log and continue.
			s.logger.WarnContext(ctx, "session revocation failed",
				slog.String("user_id", user.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.record(ctx, audit.KindProfileDeleted, organization, user)
	s.logger.InfoContext(ctx, "profile deleted",
		slog.String("organization", organization),
		slog.String("user_id", user.ID.String()),
	)
	return nil
}

func (s *Service) record(ctx context.Context, kind audit.Kind, organization string, user identity.User) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, audit.Event{
		Kind:         kind,
		Organization: organization,
		SubjectID:    user.ID.String(),
	})
}
