package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

const tracerName = "wxpass/internal/ledger"

// Client wraps a Node with bounded retries and confirmation waits. Transient
// network failures are retried with exponential backoff; persistent failures
// surface as ledger_unavailable domain errors.
type Client struct {
	node    Node
	logger  *slog.Logger
	tracer  trace.Tracer
	latency prometheus.Observer

	maxAttempts  int
	baseDelay    time.Duration
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts bounds retries of a single node call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; it doubles per attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithPollInterval sets how often AwaitConfirmation re-queries the node.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLatencyObserver records per-call node latency.
func WithLatencyObserver(o prometheus.Observer) Option {
	return func(c *Client) {
		c.latency = o
	}
}

// NewClient builds a retrying client over the given node.
func NewClient(node Node, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		node:         node,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		maxAttempts:  4,
		baseDelay:    250 * time.Millisecond,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit places a payment on the ledger. The payment's TxID makes the call
// idempotent: a retry after a network timeout cannot double-submit the same
// logical transaction.
func (c *Client) Submit(ctx context.Context, p Payment) error {
	ctx, span := c.tracer.Start(ctx, "ledger.Submit",
		trace.WithAttributes(attribute.String("tx_id", p.TxID.String())))
	defer span.End()

	return c.retry(ctx, "submit", func(ctx context.Context) error {
		return c.node.SubmitTransaction(ctx, p)
	})
}

// AwaitConfirmation polls the node until the transaction settles or the
// timeout elapses. A timeout yields payment_unconfirmed, not failed: the
// transaction is still owned by the ledger and may settle later.
func (c *Client) AwaitConfirmation(ctx context.Context, txID domain.TxID, timeout time.Duration) (*Confirmation, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.AwaitConfirmation",
		trace.WithAttributes(attribute.String("tx_id", txID.String())))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.Transaction(ctx, txID)
		if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
		if err == nil {
			switch res.Status {
			case StatusConfirmed:
				return res.Confirmation, nil
			case StatusFailed:
				return nil, dErrors.New(dErrors.CodeInsufficientPayment, "transaction rejected: "+res.Reason)
			}
		}

		select {
		case <-ctx.Done():
			return nil, dErrors.New(dErrors.CodePaymentUnconfirmed, "transaction not settled within "+timeout.String())
		case <-ticker.C:
		}
	}
}

// Transaction returns the node's current view of a submitted transaction.
func (c *Client) Transaction(ctx context.Context, txID domain.TxID) (TxResult, error) {
	var res TxResult
	err := c.retry(ctx, "pending_transaction", func(ctx context.Context) error {
		var innerErr error
		res, innerErr = c.node.PendingTransaction(ctx, txID)
		return innerErr
	})
	return res, err
}

// Account returns the confirmed state of an address.
func (c *Client) Account(ctx context.Context, addr domain.Address) (Account, error) {
	var acct Account
	err := c.retry(ctx, "account_information", func(ctx context.Context) error {
		var innerErr error
		acct, innerErr = c.node.AccountInformation(ctx, addr)
		return innerErr
	})
	return acct, err
}

// Health reports node reachability for readiness probes.
func (c *Client) Health(ctx context.Context) error {
	return c.node.Status(ctx)
}

// retry runs fn with exponential backoff. Domain-coded errors are permanent
// (the node understood the request and said no); anything else is treated as a
// transient network failure.
func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		if c.latency != nil {
			c.latency.Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return nil
		}

		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}
		c.logger.WarnContext(ctx, "ledger call failed, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeLedgerUnavailable, "ledger call cancelled")
		case <-time.After(delay):
		}
		delay *= 2
	}

	return dErrors.Wrap(lastErr, dErrors.CodeLedgerUnavailable, op+" failed after retries")
}
