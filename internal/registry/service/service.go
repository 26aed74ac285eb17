package service

import (
	"context"
	"log/slog"
	"time"

	"wxpass/internal/events"
	"wxpass/internal/ledger"
	"wxpass/internal/platform/metrics"
	"wxpass/internal/registry/models"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// Store is the persistence boundary for credential state. Assign is the single
// serialization point for ownership changes: implementations must guarantee
// that concurrent calls never hand out the same credential and that a payment
// proof settles at most one purchase.
type Store interface {
	Insert(ctx context.Context, creds []*models.Credential) error
	Get(ctx context.Context, id domain.CredentialID) (*models.Credential, error)
	ListUnowned(ctx context.Context, now time.Time, limit int, sort models.SortKey) ([]*models.Credential, error)
	ListByOwner(ctx context.Context, owner domain.Address) ([]*models.Credential, error)
	CountUnowned(ctx context.Context, now time.Time) (int, error)
	Assign(ctx context.Context, p AssignParams) ([]*models.Credential, error)
	DecrementUses(ctx context.Context, id domain.CredentialID) (*models.Credential, error)
}

// AssignParams transfers quantity unowned, unexpired credentials to Owner,
// restarting their validity window at Now and recording PaymentTxID as spent.
type AssignParams struct {
	Owner       domain.Address
	Quantity    int
	PaymentTxID domain.TxID
	Now         time.Time
}

// LedgerReader is the slice of the ledger client the registry needs to verify
// payment proofs.
type LedgerReader interface {
	Transaction(ctx context.Context, txID domain.TxID) (ledger.TxResult, error)
}

// Config fixes the marketplace economics. All values arrive from deployment
// configuration; the registry never invents them.
type Config struct {
	Price          uint64
	Validity       time.Duration
	HoldingAddress domain.Address
	AdminAddress   domain.Address
}

// Service owns the credential lifecycle: minting, purchase settlement, and
// listings. Payment verification happens against the ledger before any state
// changes; no lock is held across ledger calls.
type Service struct {
	store     Store
	ledger    LedgerReader
	cfg       Config
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a registry service. publisher and m may be nil.
func New(store Store, ledgerReader LedgerReader, cfg Config, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		store:     store,
		ledger:    ledgerReader,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Price returns the configured per-credential price in microalgos.
func (s *Service) Price() uint64 { return s.cfg.Price }

// HoldingAddress returns the address purchase payments must be sent to.
func (s *Service) HoldingAddress() domain.Address { return s.cfg.HoldingAddress }

// Mint creates a batch of unowned credentials. Only the configured admin
// identity may mint.
func (s *Service) Mint(ctx context.Context, caller domain.Address, req models.MintRequest) ([]domain.CredentialID, error) {
	if caller != s.cfg.AdminAddress || caller.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the admin identity can mint credentials")
	}
	if req.Quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quantity must be positive")
	}
	// Omitted price and validity fall back to the configured marketplace terms.
	if req.Price == 0 {
		req.Price = s.cfg.Price
	}
	if req.ValiditySeconds == 0 {
		req.ValiditySeconds = int64(s.cfg.Validity / time.Second)
	}
	if req.Price == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "price must be positive")
	}
	if req.ValiditySeconds <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "validity must be positive")
	}
	if req.UsageLimited && req.Uses <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "usage-limited credentials need a positive use count")
	}

	now := time.Now().UTC()
	validity := time.Duration(req.ValiditySeconds) * time.Second

	creds := make([]*models.Credential, 0, req.Quantity)
	ids := make([]domain.CredentialID, 0, req.Quantity)
	for range req.Quantity {
		c := &models.Credential{
			ID:       domain.NewCredentialID(),
			Price:    req.Price,
			Validity: validity,
			MintedAt: now,
			// Unowned credentials carry a shelf life: expiry restarts at purchase.
			IssuedAt:  now,
			ExpiresAt: now.Add(validity),
		}
		if req.UsageLimited {
			c.UsageLimited = true
			c.UsesRemaining = req.Uses
		}
		creds = append(creds, c)
		ids = append(ids, c.ID)
	}

	if err := s.store.Insert(ctx, creds); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "insert minted credentials")
	}

	if s.metrics != nil {
		s.metrics.CredentialsMinted.Add(float64(req.Quantity))
	}
	s.publisher.Emit(ctx, events.Event{
		Action:        events.ActionCredentialsMinted,
		CredentialIDs: ids,
		Quantity:      req.Quantity,
	})
	s.logger.InfoContext(ctx, "minted credential batch",
		"quantity", req.Quantity,
		"price", req.Price,
		"validity_seconds", req.ValiditySeconds,
	)
	return ids, nil
}

// Purchase settles a credential sale. The payment proof must be a confirmed
// ledger payment of exactly quantity * price from the buyer to the holding
// address; partial payments are rejected outright, never partially honored.
func (s *Service) Purchase(ctx context.Context, order models.PurchaseOrder) ([]domain.CredentialID, error) {
	if order.Buyer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "buyer address is required")
	}
	if order.Quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "quantity must be positive")
	}
	if order.PaymentTxID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payment proof is required")
	}

	if err := s.verifyPayment(ctx, order); err != nil {
		s.recordPurchaseFailure(ctx, order, err)
		return nil, err
	}

	assigned, err := s.store.Assign(ctx, AssignParams{
		Owner:       order.Buyer,
		Quantity:    order.Quantity,
		PaymentTxID: order.PaymentTxID,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		s.recordPurchaseFailure(ctx, order, err)
		return nil, err
	}

	ids := make([]domain.CredentialID, 0, len(assigned))
	for _, c := range assigned {
		ids = append(ids, c.ID)
	}

	if s.metrics != nil {
		s.metrics.CredentialsSold.Add(float64(len(ids)))
	}
	s.publisher.Emit(ctx, events.Event{
		Action:        events.ActionPurchaseCompleted,
		Identity:      order.Buyer,
		CredentialIDs: ids,
		PaymentTxID:   order.PaymentTxID,
		Quantity:      order.Quantity,
	})
	s.logger.InfoContext(ctx, "purchase settled",
		"buyer", order.Buyer.Short(),
		"quantity", order.Quantity,
		"payment_tx", order.PaymentTxID.String(),
	)
	return ids, nil
}

// verifyPayment checks the proof against the ledger. Runs before any state
// change and outside any store-level critical section.
func (s *Service) verifyPayment(ctx context.Context, order models.PurchaseOrder) error {
	res, err := s.ledger.Transaction(ctx, order.PaymentTxID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodePaymentUnconfirmed, "payment transaction not found on ledger")
		}
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "verify payment")
	}

	switch res.Status {
	case ledger.StatusPending:
		return dErrors.New(dErrors.CodePaymentUnconfirmed, "payment transaction not yet finalized")
	case ledger.StatusFailed:
		return dErrors.New(dErrors.CodeInsufficientPayment, "payment transaction failed: "+res.Reason)
	}

	if res.Payment.Receiver != s.cfg.HoldingAddress {
		return dErrors.New(dErrors.CodeInsufficientPayment, "payment was not sent to the registry holding address")
	}
	if res.Payment.Sender != order.Buyer {
		return dErrors.New(dErrors.CodeInsufficientPayment, "payment was not sent by the buyer")
	}
	required := s.cfg.Price * uint64(order.Quantity)
	if res.Payment.Amount != required {
		return dErrors.New(dErrors.CodeInsufficientPayment, "payment amount does not match quantity * price")
	}
	return nil
}

func (s *Service) recordPurchaseFailure(ctx context.Context, order models.PurchaseOrder, err error) {
	code := string(dErrors.CodeOf(err))
	if s.metrics != nil {
		s.metrics.PurchasesFailed.WithLabelValues(code).Inc()
	}
	s.publisher.Emit(ctx, events.Event{
		Action:      events.ActionPurchaseFailed,
		Identity:    order.Buyer,
		PaymentTxID: order.PaymentTxID,
		Quantity:    order.Quantity,
		Reason:      code,
	})
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListAvailable returns unowned, unexpired credentials for the marketplace.
func (s *Service) ListAvailable(ctx context.Context, limit int, sort models.SortKey) ([]*models.Summary, error) {
	if sort == "" {
		sort = models.SortByCreated
	}
	if !models.ValidSortKey(sort) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sort must be one of price, expiry, created")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	creds, err := s.store.ListUnowned(ctx, time.Now().UTC(), limit, sort)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list available credentials")
	}

	summaries := make([]*models.Summary, 0, len(creds))
	for _, c := range creds {
		summaries = append(summaries, c.Summarize())
	}
	return summaries, nil
}

// Available reports current stock for purchase instructions.
func (s *Service) Available(ctx context.Context) (int, error) {
	n, err := s.store.CountUnowned(ctx, time.Now().UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count available credentials")
	}
	if s.metrics != nil {
		s.metrics.AvailableStock.Set(float64(n))
	}
	return n, nil
}

// Query returns every credential owned by the identity, including expired and
// exhausted ones; callers interpret status themselves.
func (s *Service) Query(ctx context.Context, owner domain.Address) ([]*models.Credential, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "owner address is required")
	}
	creds, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "query credentials for owner")
	}
	return creds, nil
}

// ConsumeUse burns one use of a usage-limited credential. Time-limited
// credentials pass through unchanged.
func (s *Service) ConsumeUse(ctx context.Context, id domain.CredentialID) (*models.Credential, error) {
	cred, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "credential "+id.String()+" not found")
	}
	if !cred.UsageLimited {
		return cred, nil
	}

	updated, err := s.store.DecrementUses(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consume use of credential "+id.String())
	}
	if s.metrics != nil {
		s.metrics.CredentialsUsed.Inc()
	}
	s.publisher.Emit(ctx, events.Event{
		Action:        events.ActionCredentialUsed,
		Identity:      updated.Owner,
		CredentialIDs: []domain.CredentialID{id},
	})
	return updated, nil
}
