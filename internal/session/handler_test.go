package session_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tunnus/internal/oidc"
	"tunnus/internal/session"
	"tunnus/pkg/platform/audit"
	"tunnus/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	provider   *testutil.OIDCServer
	registry   *session.Registry
	auditStore *audit.InMemoryStore
	router     chi.Router

	userID uuid.UUID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.provider = testutil.NewOIDCServer(s.T(), "auth-client")
	s.registry = session.NewRegistry(session.NewInMemoryStore(), 0)
	s.auditStore = audit.NewInMemoryStore()
	s.userID = uuid.New()

	discovery := oidc.NewDiscovery(map[oidc.Server]oidc.ServerConfig{
		oidc.ServerAuth: {
			BaseURI:      s.provider.URL(),
			ClientID:     "auth-client",
			ClientSecret: s.provider.Secret,
		},
	})

	recorder := audit.NewRecorder(s.auditStore)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = recorder.Run(ctx) }()
	s.T().Cleanup(cancel)

	handler := session.NewHandler(discovery, s.registry,
		session.WithAuditRecorder(recorder),
		session.WithLogger(slog.New(slog.DiscardHandler)),
	)
	s.router = chi.NewRouter()
	handler.Register(s.router)
}

func (s *HandlerSuite) logoutToken(sid string, opts ...testutil.TokenOption) string {
	base := []testutil.TokenOption{
		testutil.WithClaim("events", map[string]any{
			"http://schemas.openid.net/event/backchannel-logout": map[string]any{},
		}),
		testutil.WithClaim("sid", sid),
		testutil.WithoutClaim("nonce"),
	}
	return s.provider.SignRS256(s.T(), s.userID.String(), append(base, opts...)...)
}

func (s *HandlerSuite) postLogout(token string) *httptest.ResponseRecorder {
	form := url.Values{}
	if token != "" {
		form.Set("logout_token", token)
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/backchannel_logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestLogoutTerminatesSession() {
	ctx := context.Background()
	s.Require().NoError(s.registry.Track(ctx, "sid-1", s.userID, "city"))

	rr := s.postLogout(s.logoutToken("sid-1"))
	s.Equal(http.StatusOK, rr.Code)
	s.Equal("no-store", rr.Header().Get("Cache-Control"))

	_, err := s.registry.Logout(ctx, "sid-1")
	s.Error(err, "session is gone")

	s.Require().Eventually(func() bool {
		events, err := s.auditStore.ListBySubject(ctx, s.userID.String())
		return err == nil && len(events) == 1 &&
			events[0].Kind == audit.KindSessionRevoked &&
			events[0].Details["sid"] == "sid-1"
	}, time.Second, 10*time.Millisecond, "revocation audit event recorded")
}

func (s *HandlerSuite) TestUnknownSessionStillSucceeds() {
	rr := s.postLogout(s.logoutToken("never-tracked"))
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestRejections() {
	ctx := context.Background()
	s.Require().NoError(s.registry.Track(ctx, "sid-1", s.userID, "city"))

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"foreign signature", s.provider.SignWithForeignKey(s.T(), s.userID.String())},
		{"missing logout event", s.provider.SignRS256(s.T(), s.userID.String(),
			testutil.WithClaim("sid", "sid-1"))},
		{"nonce present", s.logoutToken("sid-1", testutil.WithClaim("nonce", "abc"))},
		{"missing sid", s.logoutToken("")},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rr := s.postLogout(tc.token)
			s.Equal(http.StatusBadRequest, rr.Code)
		})
	}

	_, err := s.registry.Logout(ctx, "sid-1")
	s.NoError(err, "rejected requests never touched the session")
}
