package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wxpass/internal/platform/metrics"
	"wxpass/internal/platform/middleware"
	"wxpass/internal/registry/models"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/platform/httputil"
)

// Service defines the registry operations the marketplace endpoints need.
type Service interface {
	Mint(ctx context.Context, caller domain.Address, req models.MintRequest) ([]domain.CredentialID, error)
	Purchase(ctx context.Context, order models.PurchaseOrder) ([]domain.CredentialID, error)
	ListAvailable(ctx context.Context, limit int, sort models.SortKey) ([]*models.Summary, error)
	Available(ctx context.Context) (int, error)
	Query(ctx context.Context, owner domain.Address) ([]*models.Credential, error)
	Price() uint64
	HoldingAddress() domain.Address
}

// Handler serves the marketplace and credential lookup endpoints.
type Handler struct {
	registry  Service
	logger    *slog.Logger
	metrics   *metrics.Metrics
	adminAuth middleware.TokenValidator
}

// New creates a registry Handler.
func New(registry Service, logger *slog.Logger, m *metrics.Metrics, adminAuth middleware.TokenValidator) *Handler {
	return &Handler{
		registry:  registry,
		logger:    logger,
		metrics:   m,
		adminAuth: adminAuth,
	}
}

// Register registers the marketplace routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.Latency(h.metrics))

		router.Post("/marketplace/purchase", h.handlePurchase)
		router.Get("/marketplace/list", h.handleList)
		router.Get("/credentials/{identity}", h.handleQuery)

		router.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireAdmin(h.adminAuth, h.logger))
			admin.Post("/admin/credentials/mint", h.handleMint)
		})
	})
}

type purchaseRequest struct {
	Buyer       string `json:"buyer"`
	PaymentTxID string `json:"payment_tx_id"`
	Quantity    int    `json:"quantity"`
}

type purchaseResponse struct {
	CredentialIDs []domain.CredentialID `json:"credential_ids"`
	Quantity      int                   `json:"quantity"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	buyer, err := domain.ParseAddress(req.Buyer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	paymentTxID, err := domain.ParseTxID(req.PaymentTxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ids, err := h.registry.Purchase(ctx, models.PurchaseOrder{
		Buyer:       buyer,
		PaymentTxID: paymentTxID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "purchase rejected",
			"request_id", requestID,
			"buyer", buyer.Short(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, purchaseResponse{
		CredentialIDs: ids,
		Quantity:      len(ids),
	})
}

type listResponse struct {
	Credentials    []*models.Summary `json:"credentials"`
	Count          int               `json:"count"`
	Price          uint64            `json:"price"`
	HoldingAddress domain.Address    `json:"holding_address"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	sort := models.SortKey(r.URL.Query().Get("sort"))

	summaries, err := h.registry.ListAvailable(ctx, limit, sort)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if summaries == nil {
		summaries = []*models.Summary{}
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Credentials:    summaries,
		Count:          len(summaries),
		Price:          h.registry.Price(),
		HoldingAddress: h.registry.HoldingAddress(),
	})
}

type credentialView struct {
	ID               domain.CredentialID `json:"id"`
	Status           models.Status       `json:"status"`
	IssuedAt         time.Time           `json:"issued_at"`
	ExpiresAt        time.Time           `json:"expires_at"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	UsesRemaining    *int                `json:"uses_remaining,omitempty"`
}

type queryResponse struct {
	Identity    domain.Address   `json:"identity"`
	Credentials []credentialView `json:"credentials"`
	Valid       int              `json:"valid"`
	Expired     int              `json:"expired"`
	Exhausted   int              `json:"exhausted"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := domain.ParseAddress(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	creds, err := h.registry.Query(ctx, identity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	now := time.Now().UTC()
	resp := queryResponse{
		Identity:    identity,
		Credentials: make([]credentialView, 0, len(creds)),
	}
	for _, c := range creds {
		status := c.Status(now)
		view := credentialView{
			ID:               c.ID,
			Status:           status,
			IssuedAt:         c.IssuedAt,
			ExpiresAt:        c.ExpiresAt,
			RemainingSeconds: c.RemainingSeconds(now),
		}
		if c.UsageLimited {
			uses := c.UsesRemaining
			view.UsesRemaining = &uses
		}
		resp.Credentials = append(resp.Credentials, view)

		switch status {
		case models.StatusValid:
			resp.Valid++
		case models.StatusExpired:
			resp.Expired++
		case models.StatusExhausted:
			resp.Exhausted++
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type mintResponse struct {
	CredentialIDs []domain.CredentialID `json:"credential_ids"`
	Quantity      int                   `json:"quantity"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	caller, err := domain.ParseAddress(middleware.GetAdminSubject(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin identity missing from token"))
		return
	}

	ids, err := h.registry.Mint(ctx, caller, req)
	if err != nil {
		h.logger.WarnContext(ctx, "mint rejected",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, mintResponse{
		CredentialIDs: ids,
		Quantity:      len(ids),
	})
}
