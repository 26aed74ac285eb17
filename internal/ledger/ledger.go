// Package ledger talks to the external ledger node: submitting payment
// transactions and querying account and transaction state. It owns no business
// logic beyond retrying transient network failures and bounding confirmation
// waits; everything above it treats the ledger as the source of truth for
// balances and settled payments.
package ledger

import (
	"context"
	"time"

	"wxpass/pkg/domain"
)

// Payment is a transfer of microalgos between two accounts. The TxID is chosen
// by the submitter before submission so that resubmitting after a network
// timeout cannot double-spend: the node deduplicates on TxID.
type Payment struct {
	TxID     domain.TxID
	Sender   domain.Address
	Receiver domain.Address
	Amount   uint64
	Note     string
}

// TxStatus is the settlement state of a submitted transaction. Pending is a
// distinct state from both confirmed and failed; callers must never conflate
// "not yet settled" with either outcome.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// Confirmation records where a transaction settled.
type Confirmation struct {
	Round       uint64
	ConfirmedAt time.Time
}

// TxResult is the node's view of a submitted transaction.
type TxResult struct {
	Payment      Payment
	Status       TxStatus
	Confirmation *Confirmation
	// Reason is set when Status is failed.
	Reason string
}

// Account is the ledger-resident state of an address.
type Account struct {
	Address domain.Address
	Balance uint64
}

// Node is the external ledger collaborator. All calls are blocking and
// network-bound; callers must not hold in-process locks across them.
type Node interface {
	// SubmitTransaction places a payment in the node's pending pool.
	// Submitting the same TxID twice is not an error.
	SubmitTransaction(ctx context.Context, p Payment) error
	// PendingTransaction reports the current state of a submitted transaction.
	PendingTransaction(ctx context.Context, txID domain.TxID) (TxResult, error)
	// AccountInformation returns the confirmed state of an address.
	AccountInformation(ctx context.Context, addr domain.Address) (Account, error)
	// Status reports node reachability.
	Status(ctx context.Context) error
}
