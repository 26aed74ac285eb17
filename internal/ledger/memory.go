package ledger

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// MemoryNode simulates a single ledger node in memory: accounts with balances,
// a pending pool, and settlement after a fixed delay. It stands in for the
// real node in tests and local development; it is not a consensus layer.
type MemoryNode struct {
	mu          sync.Mutex
	accounts    map[domain.Address]uint64
	txs         map[domain.TxID]*memTx
	round       uint64
	settleDelay time.Duration
	now         func() time.Time
}

type memTx struct {
	payment     Payment
	submittedAt time.Time
	status      TxStatus
	confirmed   *Confirmation
	reason      string
}

// MemoryOption configures a MemoryNode.
type MemoryOption func(*MemoryNode)

// WithSettleDelay sets how long a transaction stays pending before settling.
// Zero means transactions settle on the next query.
func WithSettleDelay(d time.Duration) MemoryOption {
	return func(n *MemoryNode) { n.settleDelay = d }
}

// WithClock sets the clock function for testability.
func WithClock(now func() time.Time) MemoryOption {
	return func(n *MemoryNode) {
		if now != nil {
			n.now = now
		}
	}
}

// NewMemoryNode creates an empty simulated node.
func NewMemoryNode(opts ...MemoryOption) *MemoryNode {
	n := &MemoryNode{
		accounts: make(map[domain.Address]uint64),
		txs:      make(map[domain.TxID]*memTx),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// CreateAccount funds a fresh address and returns it. Addresses are issued by
// the ledger, matching the production model where identities arrive from outside.
func (n *MemoryNode) CreateAccount(balance uint64) domain.Address {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := randomAddress()
	n.accounts[addr] = balance
	return addr
}

// SubmitTransaction places a payment in the pending pool. Duplicate TxIDs are
// accepted silently so retries after network timeouts stay idempotent.
func (n *MemoryNode) SubmitTransaction(_ context.Context, p Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settle()

	if _, ok := n.txs[p.TxID]; ok {
		return nil
	}
	if _, ok := n.accounts[p.Sender]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "unknown sender account")
	}
	n.txs[p.TxID] = &memTx{
		payment:     p,
		submittedAt: n.now(),
		status:      StatusPending,
	}
	return nil
}

// PendingTransaction reports the state of a submitted transaction.
func (n *MemoryNode) PendingTransaction(_ context.Context, txID domain.TxID) (TxResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settle()

	tx, ok := n.txs[txID]
	if !ok {
		return TxResult{}, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	}
	return TxResult{
		Payment:      tx.payment,
		Status:       tx.status,
		Confirmation: tx.confirmed,
		Reason:       tx.reason,
	}, nil
}

// AccountInformation returns the confirmed balance of an address.
func (n *MemoryNode) AccountInformation(_ context.Context, addr domain.Address) (Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settle()

	balance, ok := n.accounts[addr]
	if !ok {
		return Account{}, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return Account{Address: addr, Balance: balance}, nil
}

// Status reports node reachability. The in-memory node is always up.
func (n *MemoryNode) Status(context.Context) error {
	return nil
}

// settle confirms every pending transaction past its settle delay, applying
// balance transfers exactly once. Must be called while holding n.mu.
func (n *MemoryNode) settle() {
	now := n.now()
	for _, tx := range n.txs {
		if tx.status != StatusPending || now.Sub(tx.submittedAt) < n.settleDelay {
			continue
		}

		sender := tx.payment.Sender
		if n.accounts[sender] < tx.payment.Amount {
			tx.status = StatusFailed
			tx.reason = "insufficient balance"
			continue
		}

		n.round++
		n.accounts[sender] -= tx.payment.Amount
		n.accounts[tx.payment.Receiver] += tx.payment.Amount
		tx.status = StatusConfirmed
		tx.confirmed = &Confirmation{Round: n.round, ConfirmedAt: now}
	}
}

// randomAddress draws a fixed-width address from the ledger's base32 alphabet.
func randomAddress() domain.Address {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	buf := make([]byte, domain.AddressLength)
	if _, err := rand.Read(buf); err != nil {
		panic("ledger: cannot read random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return domain.Address(buf)
}
