package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wxpass/internal/platform/logger"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// flakyNode fails the first n calls with a plain network error, then delegates
// to the wrapped node.
type flakyNode struct {
	Node
	failures int
}

func (f *flakyNode) SubmitTransaction(ctx context.Context, p Payment) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return f.Node.SubmitTransaction(ctx, p)
}

func newTestClient(node Node, opts ...Option) *Client {
	base := []Option{WithBaseDelay(time.Millisecond), WithPollInterval(5 * time.Millisecond)}
	return NewClient(node, logger.New(), append(base, opts...)...)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryNode()
	sender := mem.CreateAccount(100)
	receiver := mem.CreateAccount(0)
	node := &flakyNode{Node: mem, failures: 2}

	client := newTestClient(node)

	p := Payment{TxID: domain.NewTxID(), Sender: sender, Receiver: receiver, Amount: 10}
	require.NoError(t, client.Submit(ctx, p), "two transient failures are within retry budget")

	res, err := client.Transaction(ctx, p.TxID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
}

func TestClient_ExhaustedRetriesBecomeLedgerUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryNode()
	sender := mem.CreateAccount(100)
	node := &flakyNode{Node: mem, failures: 100}

	client := newTestClient(node, WithMaxAttempts(2))

	err := client.Submit(ctx, Payment{TxID: domain.NewTxID(), Sender: sender})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
}

func TestClient_DomainErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryNode()
	client := newTestClient(mem)

	// Unknown sender is a permanent rejection from the node.
	err := client.Submit(ctx, Payment{TxID: domain.NewTxID(), Sender: domain.Address("UNKNOWN")})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestClient_AwaitConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("settled payment confirms within timeout", func(t *testing.T) {
		mem := NewMemoryNode(WithSettleDelay(20 * time.Millisecond))
		sender := mem.CreateAccount(100)
		receiver := mem.CreateAccount(0)
		client := newTestClient(mem)

		p := Payment{TxID: domain.NewTxID(), Sender: sender, Receiver: receiver, Amount: 10}
		require.NoError(t, client.Submit(ctx, p))

		conf, err := client.AwaitConfirmation(ctx, p.TxID, time.Second)
		require.NoError(t, err)
		assert.NotZero(t, conf.Round)
	})

	t.Run("unsettled payment times out as payment_unconfirmed", func(t *testing.T) {
		mem := NewMemoryNode(WithSettleDelay(time.Hour))
		sender := mem.CreateAccount(100)
		receiver := mem.CreateAccount(0)
		client := newTestClient(mem)

		p := Payment{TxID: domain.NewTxID(), Sender: sender, Receiver: receiver, Amount: 10}
		require.NoError(t, client.Submit(ctx, p))

		_, err := client.AwaitConfirmation(ctx, p.TxID, 30*time.Millisecond)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodePaymentUnconfirmed))
	})

	t.Run("failed payment reports rejection", func(t *testing.T) {
		mem := NewMemoryNode()
		sender := mem.CreateAccount(5)
		receiver := mem.CreateAccount(0)
		client := newTestClient(mem)

		p := Payment{TxID: domain.NewTxID(), Sender: sender, Receiver: receiver, Amount: 50}
		require.NoError(t, client.Submit(ctx, p))

		_, err := client.AwaitConfirmation(ctx, p.TxID, time.Second)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientPayment))
	})

	t.Run("transaction not yet visible keeps polling", func(t *testing.T) {
		mem := NewMemoryNode()
		sender := mem.CreateAccount(100)
		receiver := mem.CreateAccount(0)
		client := newTestClient(mem)

		p := Payment{TxID: domain.NewTxID(), Sender: sender, Receiver: receiver, Amount: 10}

		// Submit shortly after the await begins: the first poll sees not_found
		// and must treat it as "not yet", not as terminal.
		go func() {
			time.Sleep(15 * time.Millisecond)
			_ = client.Submit(ctx, p)
		}()

		conf, err := client.AwaitConfirmation(ctx, p.TxID, time.Second)
		require.NoError(t, err)
		assert.NotNil(t, conf)
	})
}
