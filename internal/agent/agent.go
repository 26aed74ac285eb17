// Package agent acquires weather access on demand. It asks the gateway first
// and buys a credential only when the gateway says no: pay the holding address
// on the ledger, wait for settlement, redeem the payment, then retry the
// request once.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wxpass/internal/ledger"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// Gateway is the weather service as the agent sees it.
type Gateway interface {
	Weather(ctx context.Context, identity domain.Address, city string) (*WeatherReport, *Denial, error)
	Purchase(ctx context.Context, buyer domain.Address, proof domain.TxID, quantity int) ([]domain.CredentialID, error)
}

// Ledger submits payments and waits for them to settle.
type Ledger interface {
	Submit(ctx context.Context, p ledger.Payment) error
	AwaitConfirmation(ctx context.Context, txID domain.TxID, timeout time.Duration) (*ledger.Confirmation, error)
}

// Config tunes the agent's retry behavior.
type Config struct {
	Identity domain.Address
	// SettleTimeout bounds the wait for payment confirmation.
	SettleTimeout time.Duration
	// FetchRetries bounds retries when the provider is down. Denials do not
	// count against it.
	FetchRetries int
	// RetryBackoff is the initial delay between provider retries; it doubles
	// per attempt.
	RetryBackoff time.Duration
}

// Agent fetches weather, buying access when needed.
type Agent struct {
	gateway Gateway
	ledger  Ledger
	cfg     Config
	logger  *slog.Logger
}

func New(gateway Gateway, l Ledger, cfg Config, logger *slog.Logger) *Agent {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Agent{
		gateway: gateway,
		ledger:  l,
		cfg:     cfg,
		logger:  logger,
	}
}

// Fetch returns the weather for one city, acquiring a credential if the
// gateway denies access. At most one purchase per call: a second denial after
// a successful purchase is terminal.
func (a *Agent) Fetch(ctx context.Context, city string) (*WeatherReport, error) {
	report, denial, err := a.fetchWithBackoff(ctx, city)
	if err != nil {
		return nil, err
	}
	if denial == nil {
		return report, nil
	}

	a.logger.InfoContext(ctx, "access denied, acquiring credential",
		"city", city,
		"reason", denial.Error,
		"price", denial.PurchaseInstructions.Price,
	)
	if err := a.acquire(ctx, denial); err != nil {
		return nil, err
	}

	report, denial, err = a.fetchWithBackoff(ctx, city)
	if err != nil {
		return nil, err
	}
	if denial != nil {
		return nil, dErrors.New(dErrors.Code(denial.Error), "denied after purchase: "+denial.ErrorDescription)
	}
	return report, nil
}

// Run fetches all cities concurrently, one in-flight request per city. The
// first hard failure cancels the remaining work.
func (a *Agent) Run(ctx context.Context, cities []string) (map[string]*WeatherReport, error) {
	results := make(map[string]*WeatherReport, len(cities))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, city := range cities {
		g.Go(func() error {
			report, err := a.Fetch(ctx, city)
			if err != nil {
				return err
			}
			mu.Lock()
			results[city] = report
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchWithBackoff retries only when the provider is down. A denial is an
// answer, not a failure, and returns immediately.
func (a *Agent) fetchWithBackoff(ctx context.Context, city string) (*WeatherReport, *Denial, error) {
	delay := a.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= a.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			a.logger.WarnContext(ctx, "provider unavailable, retrying",
				"city", city,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, nil, dErrors.Wrap(ctx.Err(), dErrors.CodeProviderUnavailable, "fetch cancelled")
			case <-time.After(delay):
			}
			delay *= 2
		}

		report, denial, err := a.gateway.Weather(ctx, a.cfg.Identity, city)
		if err == nil {
			return report, denial, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// acquire pays for exactly one credential and redeems the settled payment.
func (a *Agent) acquire(ctx context.Context, denial *Denial) error {
	payment := ledger.Payment{
		TxID:     domain.NewTxID(),
		Sender:   a.cfg.Identity,
		Receiver: denial.PurchaseInstructions.HoldingAddress,
		Amount:   denial.PurchaseInstructions.Price,
		Note:     "weather credential purchase",
	}

	if err := a.ledger.Submit(ctx, payment); err != nil {
		return err
	}
	if _, err := a.ledger.AwaitConfirmation(ctx, payment.TxID, a.cfg.SettleTimeout); err != nil {
		return err
	}

	ids, err := a.gateway.Purchase(ctx, a.cfg.Identity, payment.TxID, 1)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "credential acquired",
		"credentials", len(ids),
		"tx_id", payment.TxID.String(),
	)
	return nil
}
