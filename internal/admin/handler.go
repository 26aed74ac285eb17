package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wxpass/internal/platform/metrics"
	"wxpass/internal/platform/middleware"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/platform/httputil"
)

// Authenticator exchanges the operator key for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, key string) (string, time.Duration, error)
}

// Handler serves POST /admin/login.
type Handler struct {
	auth    Authenticator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(auth Authenticator, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		auth:    auth,
		logger:  logger,
		metrics: m,
	}
}

// Register registers the login route with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(10 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.Latency(h.metrics))

		router.Post("/admin/login", h.handleLogin)
	})
}

type loginRequest struct {
	AdminKey string `json:"admin_key"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	token, ttl, err := h.auth.Login(r.Context(), req.AdminKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	})
}
