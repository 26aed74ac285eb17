package models

import (
	"time"

	"wxpass/pkg/domain"
)

// Status is the derived validity state of a credential. It is computed from
// the record and a point in time, never stored: recomputing at the same
// instant always yields the same answer.
type Status string

const (
	// StatusUnowned means minted but not yet purchased.
	StatusUnowned Status = "unowned"
	// StatusValid means owned, unexpired, and not exhausted.
	StatusValid Status = "valid"
	// StatusExpired means the validity window has closed. Permanent.
	StatusExpired Status = "expired"
	// StatusExhausted means a usage-limited credential has no uses left. Permanent.
	StatusExhausted Status = "exhausted"
)

// Credential is one unit of access, recorded as a ledger-resident asset.
// ID, Price and Validity are fixed at mint. Owner mutates on purchase;
// IssuedAt/ExpiresAt restart at purchase time so buyers get the full window.
type Credential struct {
	ID       domain.CredentialID
	Owner    domain.Address // empty while unowned
	Price    uint64         // microalgos
	Validity time.Duration

	MintedAt  time.Time
	IssuedAt  time.Time
	ExpiresAt time.Time

	// UsageLimited credentials are exhausted when UsesRemaining reaches zero.
	// Time-limited credentials keep UsesRemaining at zero and ignore it.
	UsageLimited  bool
	UsesRemaining int
}

// Status derives the credential's state at the given instant.
func (c *Credential) Status(now time.Time) Status {
	if c.Owner.IsNil() {
		return StatusUnowned
	}
	if !now.Before(c.ExpiresAt) {
		return StatusExpired
	}
	if c.UsageLimited && c.UsesRemaining <= 0 {
		return StatusExhausted
	}
	return StatusValid
}

// RemainingSeconds reports whole seconds until expiry, never negative.
func (c *Credential) RemainingSeconds(now time.Time) int64 {
	remaining := c.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// Summary is the marketplace listing view of an unowned credential.
type Summary struct {
	ID              domain.CredentialID `json:"id"`
	Price           uint64              `json:"price"`
	ValiditySeconds int64               `json:"validity_seconds"`
	MintedAt        time.Time           `json:"minted_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

// Summarize builds the listing view.
func (c *Credential) Summarize() *Summary {
	return &Summary{
		ID:              c.ID,
		Price:           c.Price,
		ValiditySeconds: int64(c.Validity.Seconds()),
		MintedAt:        c.MintedAt,
		ExpiresAt:       c.ExpiresAt,
	}
}

// SortKey orders marketplace listings.
type SortKey string

const (
	SortByPrice   SortKey = "price"
	SortByExpiry  SortKey = "expiry"
	SortByCreated SortKey = "created"
)

// ValidSortKey reports whether s is an accepted listing order.
func ValidSortKey(s SortKey) bool {
	switch s {
	case SortByPrice, SortByExpiry, SortByCreated:
		return true
	}
	return false
}

// MintRequest is the admin request to create a credential batch.
type MintRequest struct {
	Quantity        int   `json:"quantity"`
	Price           uint64 `json:"price"`
	ValiditySeconds int64 `json:"validity_seconds"`
	// UsageLimited mints credentials that are consumed per granted access.
	UsageLimited bool `json:"usage_limited,omitempty"`
	Uses         int  `json:"uses,omitempty"`
}

// PurchaseOrder is the one-shot request to buy credentials. PaymentTxID is the
// buyer's proof: a ledger payment of exactly quantity * price to the holding
// address. Each proof settles at most one purchase.
type PurchaseOrder struct {
	Buyer       domain.Address
	PaymentTxID domain.TxID
	Quantity    int
}
