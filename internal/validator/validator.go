// Package validator decides whether an identity may access the weather
// gateway. The canonical policy checks credential ownership through the
// registry; results are cached per identity with a bounded TTL so a burst of
// requests does not turn into a burst of registry reads.
package validator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"wxpass/internal/ledger"
	"wxpass/internal/platform/metrics"
	"wxpass/internal/registry/models"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

// Grant is a positive access decision. UsesRemaining is nil for time-limited
// credentials.
type Grant struct {
	CredentialID     domain.CredentialID `json:"credential_id"`
	ExpiresAt        time.Time           `json:"expires_at"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	UsesRemaining    *int                `json:"uses_remaining,omitempty"`
}

// Policy evaluates an identity and either returns a grant or a coded denial
// (no_credential, all_expired, all_exhausted).
type Policy interface {
	Evaluate(ctx context.Context, identity domain.Address) (*Grant, error)
}

// Cache stores grants per identity. Implementations must honor the TTL and be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, identity domain.Address) (*Grant, bool, error)
	Set(ctx context.Context, identity domain.Address, grant *Grant, ttl time.Duration) error
	Invalidate(ctx context.Context, identity domain.Address) error
}

// Registry is the slice of the credential registry the validator needs.
type Registry interface {
	Query(ctx context.Context, owner domain.Address) ([]*models.Credential, error)
	ConsumeUse(ctx context.Context, id domain.CredentialID) (*models.Credential, error)
}

// Service answers access checks and consumes credential uses.
type Service struct {
	policy   Policy
	registry Registry
	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	group    singleflight.Group
}

// New builds a validator. cache may be nil to disable caching; m may be nil.
func New(policy Policy, registry Registry, cache Cache, cacheTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		policy:   policy,
		registry: registry,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  m,
		logger:   logger,
	}
}

// CheckAccess decides whether identity may access the service right now.
// Denials are returned as coded errors and are never cached; a cached grant is
// clamped so it cannot outlive the credential it was derived from.
func (s *Service) CheckAccess(ctx context.Context, identity domain.Address) (*Grant, error) {
	if identity.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}

	if s.cache != nil {
		grant, ok, err := s.cache.Get(ctx, identity)
		if err != nil {
			s.logger.WarnContext(ctx, "validator cache read failed", "identity", identity.Short(), "error", err)
		} else if ok && time.Now().Before(grant.ExpiresAt) {
			if s.metrics != nil {
				s.metrics.ValidatorCacheHits.Inc()
			}
			return refreshed(grant), nil
		}
	}

	// Concurrent checks for the same identity collapse into one evaluation.
	result, err, _ := s.group.Do(string(identity), func() (any, error) {
		grant, err := s.policy.Evaluate(ctx, identity)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, identity, grant, s.clampTTL(grant)); err != nil {
				s.logger.WarnContext(ctx, "validator cache write failed", "identity", identity.Short(), "error", err)
			}
		}
		return grant, nil
	})
	if err != nil {
		return nil, err
	}
	return refreshed(result.(*Grant)), nil
}

// Consume burns one use of the granted credential and drops the identity's
// cached decision so the next check sees the updated count.
func (s *Service) Consume(ctx context.Context, identity domain.Address, id domain.CredentialID) error {
	if _, err := s.registry.ConsumeUse(ctx, id); err != nil {
		return err
	}
	s.Forget(ctx, identity)
	return nil
}

// Forget drops the cached decision for an identity. Called after purchases so
// a fresh credential is visible immediately.
func (s *Service) Forget(ctx context.Context, identity domain.Address) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identity); err != nil {
		s.logger.WarnContext(ctx, "validator cache invalidation failed", "identity", identity.Short(), "error", err)
	}
}

// clampTTL bounds the cache lifetime by both the configured TTL and the
// credential's own expiry.
func (s *Service) clampTTL(grant *Grant) time.Duration {
	ttl := s.cacheTTL
	if until := time.Until(grant.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl
}

// refreshed recomputes RemainingSeconds at response time so a cached grant
// never reports stale countdowns.
func refreshed(grant *Grant) *Grant {
	g := *grant
	remaining := time.Until(g.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	g.RemainingSeconds = int64(remaining.Seconds())
	return &g
}

// CredentialPolicy grants access to identities owning at least one valid
// credential, picking the soonest-expiring one so long-lived credentials are
// preserved.
type CredentialPolicy struct {
	registry Registry
}

// NewCredentialPolicy builds the canonical ownership policy.
func NewCredentialPolicy(registry Registry) *CredentialPolicy {
	return &CredentialPolicy{registry: registry}
}

func (p *CredentialPolicy) Evaluate(ctx context.Context, identity domain.Address) (*Grant, error) {
	creds, err := p.registry.Query(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, dErrors.New(dErrors.CodeNoCredential, "identity owns no credentials")
	}

	now := time.Now().UTC()
	var chosen *models.Credential
	expired, exhausted := 0, 0
	for _, c := range creds {
		switch c.Status(now) {
		case models.StatusValid:
			if chosen == nil || c.ExpiresAt.Before(chosen.ExpiresAt) {
				chosen = c
			}
		case models.StatusExpired:
			expired++
		case models.StatusExhausted:
			exhausted++
		}
	}
	if chosen == nil {
		if exhausted > 0 && expired == 0 {
			return nil, dErrors.New(dErrors.CodeAllExhausted, "all credentials have no uses left")
		}
		return nil, dErrors.New(dErrors.CodeAllExpired, "all credentials have expired")
	}

	grant := &Grant{
		CredentialID:     chosen.ID,
		ExpiresAt:        chosen.ExpiresAt,
		RemainingSeconds: chosen.RemainingSeconds(now),
	}
	if chosen.UsageLimited {
		uses := chosen.UsesRemaining
		grant.UsesRemaining = &uses
	}
	return grant, nil
}

// Ledger is the slice of the ledger client the balance policy needs.
type Ledger interface {
	Account(ctx context.Context, addr domain.Address) (ledger.Account, error)
}

// BalancePolicy grants access to identities holding at least Threshold
// microalgos. An alternative to credential ownership for deployments that
// gate on stake instead of purchases; the grant carries no credential, so
// Consume has nothing to burn.
type BalancePolicy struct {
	ledger    Ledger
	threshold uint64
	validity  time.Duration
}

// NewBalancePolicy builds a stake-based policy. validity bounds how long a
// positive decision may be cached.
func NewBalancePolicy(ledger Ledger, threshold uint64, validity time.Duration) *BalancePolicy {
	return &BalancePolicy{ledger: ledger, threshold: threshold, validity: validity}
}

func (p *BalancePolicy) Evaluate(ctx context.Context, identity domain.Address) (*Grant, error) {
	account, err := p.ledger.Account(ctx, identity)
	if err != nil {
		return nil, err
	}
	if account.Balance < p.threshold {
		return nil, dErrors.New(dErrors.CodeNoCredential, "account balance below access threshold")
	}
	expires := time.Now().UTC().Add(p.validity)
	return &Grant{
		ExpiresAt:        expires,
		RemainingSeconds: int64(p.validity.Seconds()),
	}, nil
}
