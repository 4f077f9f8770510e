package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tunnus/internal/oidc"
	"tunnus/internal/platform/middleware"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/platform/audit"
)

// backchannelLogoutEvent is the event URI a logout token must carry.
const backchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Handler serves the provider-initiated back-channel logout endpoint.
type Handler struct {
	discovery *oidc.Discovery
	registry  *Registry
	recorder  *audit.Recorder
	logger    *slog.Logger
}

// HandlerOption configures optional Handler collaborators.
type HandlerOption func(*Handler)

// WithAuditRecorder enables session-revocation audit events.
func WithAuditRecorder(recorder *audit.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = recorder }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(discovery *oidc.Discovery, registry *Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		discovery: discovery,
		registry:  registry,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the logout endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(10 * time.Second))

		r.Post("/auth/backchannel_logout", h.handleLogout)
	})
}

// handleLogout verifies a logout token and terminates the session it names.
// An unknown sid still answers 200; the provider retries on anything else
// and the session is gone either way.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	rawToken := r.PostFormValue("logout_token")
	if rawToken == "" {
		http.Error(w, "missing logout_token", http.StatusBadRequest)
		return
	}

	connector := oidc.NewConnector(h.discovery, oidc.ServerAuth)
	claims, err := connector.Authorize(ctx, rawToken)
	if err != nil {
		h.logger.WarnContext(ctx, "logout token rejected",
			slog.String("error", err.Error()),
		)
		http.Error(w, "invalid logout token", h.failureStatus(err))
		return
	}

	sid, err := logoutSID(claims)
	if err != nil {
		http.Error(w, "invalid logout token", http.StatusBadRequest)
		return
	}

	entry, err := h.registry.Logout(ctx, sid)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "logout failed", http.StatusServiceUnavailable)
		return
	}

	if h.recorder != nil {
		h.recorder.Record(ctx, audit.Event{
			Kind:         audit.KindSessionRevoked,
			Organization: entry.Organization,
			SubjectID:    entry.UserID.String(),
			Details:      map[string]string{"sid": sid},
		})
	}
	h.logger.InfoContext(ctx, "session revoked",
		slog.String("organization", entry.Organization),
		slog.String("user_id", entry.UserID.String()),
	)

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) failureStatus(err error) int {
	if dErrors.HasCode(err, dErrors.CodeNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// logoutSID validates the logout-token claims beyond the signature checks:
// the back-channel event must be declared, a nonce must not be present and
// the session id must be named.
func logoutSID(claims *oidc.IdentityClaims) (string, error) {
	events, ok := claims.Raw["events"].(map[string]any)
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidToken, "missing logout event")
	}
	if _, ok := events[backchannelLogoutEvent]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidToken, "missing logout event")
	}
	if _, ok := claims.Raw["nonce"]; ok {
		return "", dErrors.New(dErrors.CodeInvalidToken, "logout token must not carry a nonce")
	}
	sid, _ := claims.Raw["sid"].(string)
	if sid == "" {
		return "", dErrors.New(dErrors.CodeInvalidToken, "missing session id")
	}
	return sid, nil
}
