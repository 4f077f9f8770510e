package authentication

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tunnus/internal/oidc"
	"tunnus/internal/platform/middleware"
	"tunnus/internal/session"
	"tunnus/internal/verification"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/platform/audit"
)

// Handler exposes the sign-in flow to the host application. The host runs
// the interactive provider dance and posts the resulting ID token here; this
// endpoint verifies it and reconciles the account.
type Handler struct {
	discovery *oidc.Discovery
	service   *Service
	org       Organization
	provider  string
	sessions  *session.Registry
	recorder  *audit.Recorder
	logger    *slog.Logger
}

// HandlerOption configures optional Handler collaborators.
type HandlerOption func(*Handler)

// WithSessionRegistry tracks provider sessions so back-channel logout works.
func WithSessionRegistry(sessions *session.Registry) HandlerOption {
	return func(h *Handler) { h.sessions = sessions }
}

// WithAuditRecorder enables login audit events.
func WithAuditRecorder(recorder *audit.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = recorder }
}

// WithHandlerLogger sets the structured logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(discovery *oidc.Discovery, service *Service, org Organization, provider string, opts ...HandlerOption) *Handler {
	h := &Handler{
		discovery: discovery,
		service:   service,
		org:       org,
		provider:  provider,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the sign-in endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)

		r.Post("/internal/v1/authenticate", h.handleAuthenticate)
	})
}

// authenticateRequest is the callback payload the host forwards. The ID
// token travels in the Authorization header; the body carries what the
// provider handed back alongside it.
type authenticateRequest struct {
	Nonce       string `json:"nonce,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Info        Info   `json:"info"`
}

type authorizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GrantedAt time.Time `json:"granted_at"`
}

type authenticateResponse struct {
	UserID        string                `json:"user_id"`
	NewUser       bool                  `json:"new_user"`
	IdentityID    string                `json:"identity_id"`
	Authorization authorizationResponse `json:"authorization"`
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	connector := oidc.NewConnector(h.discovery, oidc.ServerAuth)
	claims, err := connector.AuthorizeHeader(ctx, r.Header.Get("Authorization"),
		oidc.WithNonce(body.Nonce),
	)
	if err != nil {
		h.recordFailure(ctx, err)
		h.writeError(w, err)
		return
	}

	payload := Payload{
		Provider:    h.provider,
		UID:         claims.Subject,
		Info:        infoFromClaims(claims.Raw, body.Info),
		RawInfo:     verification.Claims(claims.Raw),
		AccessToken: body.AccessToken,
	}

	result, err := h.service.Authenticate(ctx, h.org, payload)
	if err != nil {
		h.recordFailure(ctx, err)
		h.writeError(w, err)
		return
	}

	if h.sessions != nil {
		sid, _ := claims.Raw["sid"].(string)
		if err := h.sessions.Track(ctx, sid, result.User.ID, h.org.Slug); err != nil {
			h.logger.WarnContext(ctx, "session tracking failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if h.recorder != nil {
		h.recorder.Record(ctx, audit.Event{
			Kind:         audit.KindLogin,
			Organization: h.org.Slug,
			SubjectID:    result.User.ID.String(),
			Details:      map[string]string{"new_user": boolString(result.NewUser)},
		})
		if result.NewUser {
			h.recorder.Record(ctx, audit.Event{
				Kind:         audit.KindUserCreated,
				Organization: h.org.Slug,
				SubjectID:    result.User.ID.String(),
				Details:      map[string]string{"provider": h.provider},
			})
		}
		h.recorder.Record(ctx, audit.Event{
			Kind:         audit.KindGrantIssued,
			Organization: h.org.Slug,
			SubjectID:    result.User.ID.String(),
			Details: map[string]string{
				"authorization": result.Authorization.Name,
				"identity_id":   result.Identity.ID.String(),
			},
		})
	}

	writeJSON(w, http.StatusOK, authenticateResponse{
		UserID:     result.User.ID.String(),
		NewUser:    result.NewUser,
		IdentityID: result.Identity.ID.String(),
		Authorization: authorizationResponse{
			ID:        result.Authorization.ID.String(),
			Name:      result.Authorization.Name,
			GrantedAt: result.Authorization.GrantedAt,
		},
	})
}

// infoFromClaims fills the informational fields from the verified claims,
// letting the host's explicit values win.
func infoFromClaims(raw map[string]any, override Info) Info {
	claimString := func(name string) string {
		v, _ := raw[name].(string)
		return v
	}
	info := Info{
		Name:     claimString("name"),
		Email:    claimString("email"),
		Nickname: claimString("nickname"),
		Image:    claimString("picture"),
	}
	if override.Name != "" {
		info.Name = override.Name
	}
	if override.Email != "" {
		info.Email = override.Email
	}
	if override.Nickname != "" {
		info.Nickname = override.Nickname
	}
	if override.Image != "" {
		info.Image = override.Image
	}
	return info
}

func (h *Handler) recordFailure(ctx context.Context, err error) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(ctx, audit.Event{
		Kind:         audit.KindLoginFailed,
		Organization: h.org.Slug,
		Details:      map[string]string{"code": string(dErrors.CodeOf(err))},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)
	if status == http.StatusUnauthorized {
		// Same opacity as the token checks themselves.
		w.WriteHeader(status)
		return
	}
	message := "unable to complete sign-in"
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	writeJSON(w, status, map[string]string{
		"code":    string(code),
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
