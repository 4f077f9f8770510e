package gdpr_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tunnus/internal/gdpr"
	"tunnus/internal/identity"
	"tunnus/internal/oidc"
	"tunnus/internal/session"
	"tunnus/internal/verification"
	"tunnus/pkg/platform/audit"
	"tunnus/pkg/testutil"
)

const (
	testOrganization = "city"
	queryScope       = "gdprquery"
	deleteScope      = "gdprdelete"
)

type HandlerSuite struct {
	suite.Suite
	provider       *testutil.OIDCServer
	users          *identity.InMemoryUserStore
	identities     *identity.InMemoryIdentityStore
	authorizations *identity.InMemoryAuthorizationStore
	auditStore     *audit.InMemoryStore
	sessions       *session.Registry
	router         chi.Router

	profileUUID string
	user        identity.User
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.provider = testutil.NewOIDCServer(s.T(), "gdpr-client")
	s.users = identity.NewInMemoryUserStore()
	s.identities = identity.NewInMemoryIdentityStore()
	s.authorizations = identity.NewInMemoryAuthorizationStore()
	s.auditStore = audit.NewInMemoryStore()
	s.sessions = session.NewRegistry(session.NewInMemoryStore(), 0)

	discovery := oidc.NewDiscovery(map[oidc.Server]oidc.ServerConfig{
		oidc.ServerGDPR: {
			BaseURI:      s.provider.URL(),
			ClientID:     "gdpr-client",
			ClientSecret: s.provider.Secret,
		},
	})
	service := gdpr.NewService(
		gdpr.Config{Provider: "helsinki", AuthorizationName: "external_idp"},
		s.users, s.identities, s.authorizations,
		gdpr.WithAuditRecorder(s.startedRecorder()),
		gdpr.WithSessionRevoker(s.sessions),
	)
	handler := gdpr.NewHandler(discovery, service, testOrganization,
		gdpr.Scopes{Query: queryScope, Delete: deleteScope},
		slog.New(slog.DiscardHandler),
	)

	s.router = chi.NewRouter()
	handler.Register(s.router)

	s.profileUUID = uuid.NewString()
	s.user = s.seedUser(s.profileUUID)
}

func (s *HandlerSuite) startedRecorder() *audit.Recorder {
	recorder := audit.NewRecorder(s.auditStore)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = recorder.Run(ctx) }()
	s.T().Cleanup(cancel)
	return recorder
}

func (s *HandlerSuite) seedUser(profileUUID string) identity.User {
	ctx := context.Background()
	now := time.Now().UTC()

	user := identity.User{
		ID:           uuid.New(),
		Organization: testOrganization,
		Email:        "marja+" + profileUUID + "@example.org",
		Name:         "Marja Mainio",
		Nickname:     "marja",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.users.Save(ctx, user))
	s.Require().NoError(s.identities.Create(ctx, identity.Identity{
		ID:           uuid.New(),
		UserID:       user.ID,
		Organization: testOrganization,
		Provider:     "helsinki",
		UID:          profileUUID,
		CreatedAt:    now,
	}))
	s.Require().NoError(s.authorizations.Create(ctx, identity.Authorization{
		ID:       uuid.New(),
		UserID:   user.ID,
		Name:     "external_idp",
		UniqueID: "digest-" + profileUUID,
		Metadata: verification.PersonMetadata{
			Gender:      "f",
			DateOfBirth: "1985-07-15",
			PostalCode:  "00100",
		},
		GrantedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return user
}

func (s *HandlerSuite) token(sub, scope string) string {
	return s.provider.SignRS256(s.T(), sub, testutil.WithClaim("scope", scope))
}

func (s *HandlerSuite) profilePath() string {
	return fmt.Sprintf("/gdpr/v1/profiles/%s", s.profileUUID)
}

func (s *HandlerSuite) TestShowProfile() {
	req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath(), s.token(s.profileUUID, queryScope))
	rr := testutil.DoRequest(s.router, req)

	s.Require().Equal(http.StatusOK, rr.Code)

	var nodes []gdpr.Node
	testutil.DecodeJSON(s.T(), rr, &nodes)
	s.Require().Len(nodes, 2)

	s.Equal("USER", nodes[0].Name)
	s.keyValue(nodes[0], "EMAIL", s.user.Email)

	s.Equal("AUTHORIZATIONS", nodes[1].Name)
	s.keyValue(nodes[1], "GENDER", "f")
	s.keyValue(nodes[1], "DATE_OF_BIRTH", "1985-07-15")
	s.keyValue(nodes[1], "POSTAL_CODE", "00100")
}

func (s *HandlerSuite) keyValue(node gdpr.Node, key string, want any) {
	s.T().Helper()
	for _, child := range node.Children {
		if child.Key == key {
			s.Equal(want, child.Value)
			return
		}
	}
	s.Failf("missing key", "node %s has no child %s", node.Name, key)
}

func (s *HandlerSuite) TestShowRejections() {
	s.Run("missing token", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, s.profilePath())
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Empty(rr.Body.Bytes(), "401 body must be empty")
	})

	s.Run("token subject differs from addressed profile", func() {
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath(), s.token("someone-else", queryScope))
		s.Equal(http.StatusUnauthorized, testutil.DoRequest(s.router, req).Code)
	})

	s.Run("wrong scope", func() {
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath(), s.token(s.profileUUID, deleteScope))
		s.Equal(http.StatusUnauthorized, testutil.DoRequest(s.router, req).Code)
	})

	s.Run("nonce mismatch", func() {
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath()+"?nonce=expected", s.token(s.profileUUID, queryScope))
		s.Equal(http.StatusUnauthorized, testutil.DoRequest(s.router, req).Code)
	})

	s.Run("nonce match", func() {
		token := s.provider.SignRS256(s.T(), s.profileUUID,
			testutil.WithClaim("scope", queryScope),
			testutil.WithClaim("nonce", "expected"),
		)
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath()+"?nonce=expected", token)
		s.Equal(http.StatusOK, testutil.DoRequest(s.router, req).Code)
	})

	s.Run("unknown profile", func() {
		unknown := uuid.NewString()
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, "/gdpr/v1/profiles/"+unknown, s.token(unknown, queryScope))
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusNotFound, rr.Code)
		s.Empty(rr.Body.Bytes(), "404 body must be empty")
	})
}

func (s *HandlerSuite) TestDestroyProfile() {
	ctx := context.Background()

	s.Run("dry run validates without mutating", func() {
		req := testutil.NewBearerRequest(s.T(), http.MethodDelete, s.profilePath()+"?dry_run=true", s.token(s.profileUUID, deleteScope))
		s.Equal(http.StatusNoContent, testutil.DoRequest(s.router, req).Code)

		user, err := s.users.FindByID(ctx, testOrganization, s.user.ID)
		s.Require().NoError(err)
		s.False(user.Deleted())
	})

	s.Run("delete erases the account", func() {
		s.Require().NoError(s.sessions.Track(ctx, "sid-live", s.user.ID, testOrganization))

		req := testutil.NewBearerRequest(s.T(), http.MethodDelete, s.profilePath(), s.token(s.profileUUID, deleteScope))
		s.Equal(http.StatusNoContent, testutil.DoRequest(s.router, req).Code)

		user, err := s.users.FindByID(ctx, testOrganization, s.user.ID)
		s.Require().NoError(err)
		s.True(user.Deleted())
		s.NotEqual(s.user.Email, user.Email)
		s.Empty(user.Name)

		_, err = s.identities.Find(ctx, testOrganization, "helsinki", s.profileUUID)
		s.Error(err)
		_, err = s.authorizations.FindByUser(ctx, s.user.ID, "external_idp")
		s.Error(err)

		_, err = s.sessions.Logout(ctx, "sid-live")
		s.Error(err, "live sessions are revoked with the account")
	})

	s.Run("deleted profile is gone from the API", func() {
		req := testutil.NewBearerRequest(s.T(), http.MethodGet, s.profilePath(), s.token(s.profileUUID, queryScope))
		s.Equal(http.StatusNotFound, testutil.DoRequest(s.router, req).Code)
	})

	s.Run("query scope cannot delete", func() {
		other := uuid.NewString()
		s.seedUser(other)
		req := testutil.NewBearerRequest(s.T(), http.MethodDelete, "/gdpr/v1/profiles/"+other, s.token(other, queryScope))
		s.Equal(http.StatusUnauthorized, testutil.DoRequest(s.router, req).Code)
	})
}
