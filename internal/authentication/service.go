package authentication

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	authmetrics "tunnus/internal/authentication/metrics"
	"tunnus/internal/identity"
	"tunnus/internal/verification"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/email"
	"tunnus/pkg/platform/circuit"
	"tunnus/pkg/platform/sentinel"
	"tunnus/pkg/requestcontext"
)

var tracer = otel.Tracer("tunnus/authentication")

// ProfileFetcher enriches a callback with profile API data. Enrichment is
// best effort: a fetch failure is logged and the authentication proceeds on
// token claims alone.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (*verification.ProfileAttributes, error)
}

// Service orchestrates the full callback reconciliation: profile
// enrichment, account resolution, identity binding and authorization grant.
type Service struct {
	cfg            Config
	collector      *verification.Collector
	users          identity.UserStore
	identities     identity.IdentityStore
	authorizations identity.AuthorizationStore
	profiles       ProfileFetcher
	breaker        *circuit.Breaker
	logger         *slog.Logger
	metrics        *authmetrics.Metrics
}

type serviceConfig struct {
	profiles ProfileFetcher
	logger   *slog.Logger
	metrics  *authmetrics.Metrics
}

// Option configures optional Service collaborators.
type Option func(*serviceConfig)

// WithProfileFetcher enables profile API enrichment.
func WithProfileFetcher(profiles ProfileFetcher) Option {
	return func(cfg *serviceConfig) {
		cfg.profiles = profiles
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) {
		cfg.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(metrics *authmetrics.Metrics) Option {
	return func(cfg *serviceConfig) {
		cfg.metrics = metrics
	}
}

func NewService(
	cfg Config,
	collector *verification.Collector,
	users identity.UserStore,
	identities identity.IdentityStore,
	authorizations identity.AuthorizationStore,
	opts ...Option,
) *Service {
	sc := &serviceConfig{}
	for _, opt := range opts {
		opt(sc)
	}
	logger := sc.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:            cfg.withDefaults(),
		collector:      collector,
		users:          users,
		identities:     identities,
		authorizations: authorizations,
		profiles:       sc.profiles,
		breaker:        circuit.New("profile-api", circuit.WithFailureThreshold(5)),
		logger:         logger,
		metrics:        sc.metrics,
	}
}

// Authenticator builds a request-scoped reconciler for one callback,
// fetching profile enrichment when an access token is available.
func (s *Service) Authenticator(ctx context.Context, org Organization, payload Payload) *Authenticator {
	profile := s.fetchProfile(ctx, payload)
	return &Authenticator{
		cfg:            s.cfg,
		collector:      s.collector,
		org:            org,
		payload:        payload,
		profile:        profile,
		identities:     s.identities,
		authorizations: s.authorizations,
	}
}

// openCircuitProbeTimeout bounds enrichment calls while the circuit is
// open so a down profile API cannot slow every login by its full timeout.
const openCircuitProbeTimeout = 2 * time.Second

// fetchProfile runs the best-effort enrichment call behind a circuit
// breaker. An open circuit does not stop the calls, it shrinks their time
// budget; the first success closes it again.
func (s *Service) fetchProfile(ctx context.Context, payload Payload) *verification.ProfileAttributes {
	if s.profiles == nil || payload.AccessToken == "" {
		return nil
	}
	if s.breaker.IsOpen() {
		probeCtx, cancel := context.WithTimeout(ctx, openCircuitProbeTimeout)
		defer cancel()
		ctx = probeCtx
	}

	fetched, err := s.profiles.FetchProfile(ctx, payload.AccessToken)
	if err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "profile enrichment circuit opened",
				slog.String("breaker", s.breaker.Name()),
			)
		}
		s.logger.WarnContext(ctx, "profile enrichment failed, continuing on token claims",
			slog.String("provider", payload.Provider),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "profile enrichment circuit closed",
			slog.String("breaker", s.breaker.Name()),
		)
	}
	return fetched
}

// Result is a finished reconciliation.
type Result struct {
	User          identity.User
	NewUser       bool
	Identity      identity.Identity
	Authorization identity.Authorization
}

// Authenticate runs the complete callback flow: validate the payload,
// resolve or create the platform account, bind the identity and grant the
// authorization.
func (s *Service) Authenticate(ctx context.Context, org Organization, payload Payload) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "authentication.Authenticate")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization", org.Slug),
		attribute.String("provider", payload.Provider),
	)

	result, err := s.authenticate(ctx, org, payload)
	s.metrics.ObserveAuthenticate(start)
	if err != nil {
		s.metrics.RecordOutcome(string(dErrors.CodeOf(err)))
		s.logger.WarnContext(ctx, "authentication failed",
			slog.String("organization", org.Slug),
			slog.String("provider", payload.Provider),
			slog.String("code", string(dErrors.CodeOf(err))),
		)
		return Result{}, err
	}

	s.metrics.RecordOutcome("success")
	s.metrics.RecordGrant()
	s.logger.InfoContext(ctx, "authentication succeeded",
		slog.String("organization", org.Slug),
		slog.String("provider", payload.Provider),
		slog.String("user_id", result.User.ID.String()),
		slog.Bool("new_user", result.NewUser),
	)
	return result, nil
}

func (s *Service) authenticate(ctx context.Context, org Organization, payload Payload) (Result, error) {
	authenticator := s.Authenticator(ctx, org, payload)
	if err := authenticator.Validate(); err != nil {
		return Result{}, err
	}

	user, created, err := s.resolveUser(ctx, org, authenticator)
	if err != nil {
		return Result{}, err
	}

	boundIdentity, err := authenticator.IdentifyUser(ctx, user)
	if err != nil {
		return Result{}, err
	}
	authorization, err := authenticator.AuthorizeUser(ctx, user)
	if err != nil {
		return Result{}, err
	}

	return Result{
		User:          user,
		NewUser:       created,
		Identity:      boundIdentity,
		Authorization: authorization,
	}, nil
}

// resolveUser finds the account for this callback: by existing provider
// identity first, then by verified email, creating a fresh account when
// neither matches.
func (s *Service) resolveUser(ctx context.Context, org Organization, authenticator *Authenticator) (identity.User, bool, error) {
	payload := authenticator.payload

	existing, err := s.identities.Find(ctx, org.Slug, payload.Provider, payload.UID)
	if err == nil {
		user, err := s.users.FindByID(ctx, org.Slug, existing.UserID)
		if err != nil {
			return identity.User{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
		}
		if user.Deleted() {
			return identity.User{}, false, dErrors.New(dErrors.CodeUnauthorized, "account has been deleted")
		}
		return user, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return identity.User{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "identity lookup failed")
	}

	email := authenticator.VerifiedEmail()
	user, err := s.users.FindByEmail(ctx, org.Slug, email)
	if err == nil {
		if user.Deleted() {
			return identity.User{}, false, dErrors.New(dErrors.CodeUnauthorized, "account has been deleted")
		}
		return user, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return identity.User{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
	}

	now := requestcontext.Now(ctx)
	user = identity.User{
		ID:           uuid.New(),
		Organization: org.Slug,
		Email:        email,
		Name:         userFullName(payload),
		Nickname:     payload.Info.Nickname,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent signup claimed the email first.
			winner, findErr := s.users.FindByEmail(ctx, org.Slug, email)
			if findErr == nil {
				return winner, false, nil
			}
		}
		return identity.User{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "user creation failed")
	}

	s.metrics.RecordUserCreated()
	return user, true, nil
}

func userFullName(payload Payload) string {
	if payload.Info.Name != "" {
		return payload.Info.Name
	}
	first, _ := payload.RawInfo["given_name"].(string)
	if first == "" {
		first, _ = payload.RawInfo["first_name"].(string)
	}
	last, _ := payload.RawInfo["last_name"].(string)
	if last == "" {
		last, _ = payload.RawInfo["family_name"].(string)
	}
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	if payload.Info.Email == "" {
		return ""
	}
	derivedFirst, derivedLast := email.DeriveNameFromEmail(payload.Info.Email)
	return derivedFirst + " " + derivedLast
}
