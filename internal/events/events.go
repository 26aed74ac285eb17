// Package events captures marketplace and gateway actions as an audit stream.
// Events are emitted from domain logic and fanned out to Kafka; emission is
// fail-open so an unreachable broker never blocks a weather request.
package events

import (
	"context"
	"time"

	"wxpass/pkg/domain"
)

// Action names the thing that happened.
type Action string

const (
	ActionCredentialsMinted Action = "credentials_minted"
	ActionPurchaseCompleted Action = "purchase_completed"
	ActionPurchaseFailed    Action = "purchase_failed"
	ActionAccessGranted     Action = "access_granted"
	ActionAccessDenied      Action = "access_denied"
	ActionCredentialUsed    Action = "credential_used"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Action        Action                `json:"action"`
	Timestamp     time.Time             `json:"timestamp"`
	Identity      domain.Address        `json:"identity,omitempty"`
	CredentialIDs []domain.CredentialID `json:"credential_ids,omitempty"`
	PaymentTxID   domain.TxID           `json:"payment_tx_id,omitempty"`
	City          string                `json:"city,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Quantity      int                   `json:"quantity,omitempty"`
}

// Publisher emits events. Implementations must be safe for concurrent use.
type Publisher interface {
	Emit(ctx context.Context, e Event)
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

func (Noop) Emit(context.Context, Event) {}
