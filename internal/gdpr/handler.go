package gdpr

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tunnus/internal/oidc"
	"tunnus/internal/platform/middleware"
	dErrors "tunnus/pkg/domain-errors"
	"tunnus/pkg/requestcontext"
)

// Scopes names the token scopes required per operation. The profile broker
// issues tokens scoped per request type.
type Scopes struct {
	Query  string
	Delete string
}

// Handler serves the GDPR profile API. Authentication is a bearer token
// issued by the GDPR server identity, bound to the addressed profile UUID
// through the token subject.
type Handler struct {
	discovery    *oidc.Discovery
	service      *Service
	organization string
	scopes       Scopes
	logger       *slog.Logger
}

func NewHandler(discovery *oidc.Discovery, service *Service, organization string, scopes Scopes, logger *slog.Logger) *Handler {
	return &Handler{
		discovery:    discovery,
		service:      service,
		organization: organization,
		scopes:       scopes,
		logger:       logger,
	}
}

// Register mounts the GDPR routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Get("/gdpr/v1/profiles/{uuid}", h.handleShow)
	router.Delete("/gdpr/v1/profiles/{uuid}", h.handleDestroy)

	r.Mount("/", router)
}

// authorize verifies the bearer token against the GDPR server identity and
// binds it to the addressed profile: the token subject must equal the UUID
// in the path.
func (h *Handler) authorize(r *http.Request, scope string) (string, error) {
	profileUUID := chi.URLParam(r, "uuid")
	connector := oidc.NewConnector(h.discovery, oidc.ServerGDPR)

	_, err := connector.AuthorizeHeader(r.Context(), r.Header.Get("Authorization"),
		oidc.WithNonce(r.URL.Query().Get("nonce")),
		oidc.WithExpectedSubject(profileUUID),
	)
	if err != nil {
		return "", err
	}
	if err := connector.ValidateScope(scope); err != nil {
		return "", err
	}
	return profileUUID, nil
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	profileUUID, err := h.authorize(r, h.scopes.Query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	nodes, err := h.service.ExportProfile(r.Context(), h.organization, profileUUID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode profile export",
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	profileUUID, err := h.authorize(r, h.scopes.Delete)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	if err := h.service.DeleteProfile(r.Context(), h.organization, profileUUID, dryRun); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError maps failures onto the broker's contract: authentication and
// scope failures are an empty 401, unknown profiles an empty 404, anything
// else a {code,message} body. Internal causes never leak to the caller.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	h.logger.WarnContext(r.Context(), "gdpr request rejected",
		slog.String("request_id", requestcontext.RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("code", string(code)),
		slog.Int("status", status),
	)

	switch code {
	case dErrors.CodeInvalidToken, dErrors.CodeInvalidScope, dErrors.CodeUnauthorized:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
	case dErrors.CodeNotFound, dErrors.CodeNotConfigured:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "CONSTRAINT",
			"message": "Unable to process the request due to internal constraints, please contact the service maintainer.",
		})
	}
}
