package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wxpass/internal/gateway/service"
	"wxpass/internal/platform/metrics"
	"wxpass/internal/platform/middleware"
	"wxpass/internal/provider"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/platform/httputil"
)

// Gateway serves gated weather requests.
type Gateway interface {
	Fetch(ctx context.Context, identity domain.Address, city string) (*service.Result, error)
}

// Marketplace supplies the purchase instructions attached to denials.
type Marketplace interface {
	Available(ctx context.Context) (int, error)
	Price() uint64
	HoldingAddress() domain.Address
}

// Handler serves GET /weather.
type Handler struct {
	gateway     Gateway
	marketplace Marketplace
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a gateway Handler.
func New(gateway Gateway, marketplace Marketplace, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		gateway:     gateway,
		marketplace: marketplace,
		logger:      logger,
		metrics:     m,
	}
}

// Register registers the weather route with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.Latency(h.metrics))

		router.Get("/weather", h.handleWeather)
	})
}

type credentialMeta struct {
	ID               domain.CredentialID `json:"id,omitempty"`
	ExpiresAt        time.Time           `json:"expires_at"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	UsesRemaining    *int                `json:"uses_remaining,omitempty"`
}

type weatherResponse struct {
	Weather    *provider.Observation `json:"weather"`
	Credential credentialMeta        `json:"credential"`
	Provider   string                `json:"provider"`
}

// purchaseInstructions tells a denied caller how to buy access.
type purchaseInstructions struct {
	Price            uint64         `json:"price"`
	Currency         string         `json:"currency"`
	HoldingAddress   domain.Address `json:"holding_address"`
	ListEndpoint     string         `json:"list_endpoint"`
	PurchaseEndpoint string         `json:"purchase_endpoint"`
	Available        int            `json:"available"`
}

type denialResponse struct {
	Error                string               `json:"error"`
	ErrorDescription     string               `json:"error_description"`
	PurchaseInstructions purchaseInstructions `json:"purchase_instructions"`
}

func (h *Handler) handleWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	city := r.URL.Query().Get("city")
	if city == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "city query parameter is required"))
		return
	}

	// Shape validation happens before any ledger or registry work.
	identity, err := domain.ParseAddress(r.URL.Query().Get("identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.gateway.Fetch(ctx, identity, city)
	if err != nil {
		if dErrors.IsAccessDenial(err) {
			h.writeDenial(ctx, w, err)
			return
		}
		httputil.WriteError(w, err)
		return
	}

	resp := weatherResponse{
		Weather: result.Observation,
		Credential: credentialMeta{
			ExpiresAt:        result.Grant.ExpiresAt,
			RemainingSeconds: result.Grant.RemainingSeconds,
			UsesRemaining:    result.Grant.UsesRemaining,
		},
		Provider: result.Provider,
	}
	if !result.Grant.CredentialID.IsNil() {
		resp.Credential.ID = result.Grant.CredentialID
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// writeDenial builds the 403 body. Stock lookup failures degrade to zero
// availability rather than masking the denial.
func (h *Handler) writeDenial(ctx context.Context, w http.ResponseWriter, denial error) {
	available, err := h.marketplace.Available(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "stock lookup failed while writing denial", "error", err)
		available = 0
	}

	var domainErr *dErrors.Error
	description := "access denied"
	code := dErrors.CodeForbidden
	if errors.As(denial, &domainErr) {
		description = domainErr.Message
		code = domainErr.Code
	}

	httputil.WriteJSON(w, http.StatusForbidden, denialResponse{
		Error:            string(code),
		ErrorDescription: description,
		PurchaseInstructions: purchaseInstructions{
			Price:            h.marketplace.Price(),
			Currency:         "microalgos",
			HoldingAddress:   h.marketplace.HoldingAddress(),
			ListEndpoint:     "/marketplace/list",
			PurchaseEndpoint: "/marketplace/purchase",
			Available:        available,
		},
	})
}
