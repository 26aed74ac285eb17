// Package memory provides an in-memory credential store for development and
// tests. A single mutex serializes Assign so concurrent purchases of the same
// stock resolve deterministically.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"wxpass/internal/registry/models"
	"wxpass/internal/registry/service"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

type Store struct {
	mu           sync.RWMutex
	credentials  map[domain.CredentialID]*models.Credential
	usedPayments map[domain.TxID]struct{}
}

func New() *Store {
	return &Store{
		credentials:  make(map[domain.CredentialID]*models.Credential),
		usedPayments: make(map[domain.TxID]struct{}),
	}
}

func (s *Store) Insert(_ context.Context, creds []*models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range creds {
		if _, exists := s.credentials[c.ID]; exists {
			return dErrors.New(dErrors.CodeConflict, "credential "+c.ID.String()+" already exists")
		}
	}
	for _, c := range creds {
		cp := *c
		s.credentials[c.ID] = &cp
	}
	return nil
}

func (s *Store) Get(_ context.Context, id domain.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.credentials[id]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListUnowned(_ context.Context, now time.Time, limit int, key models.SortKey) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := s.unownedLocked(now)
	sortCredentials(creds, key)
	if limit > 0 && len(creds) > limit {
		creds = creds[:limit]
	}

	out := make([]*models.Credential, 0, len(creds))
	for _, c := range creds {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListByOwner(_ context.Context, owner domain.Address) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Credential
	for _, c := range s.credentials {
		if c.Owner == owner {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) CountUnowned(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.unownedLocked(now)), nil
}

// Assign is the purchase critical section: the payment proof is marked spent
// and the credentials change owner under one lock, so a proof replayed
// concurrently can never settle twice and two buyers can never receive the
// same credential.
func (s *Store) Assign(_ context.Context, p service.AssignParams) ([]*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, spent := s.usedPayments[p.PaymentTxID]; spent {
		return nil, dErrors.New(dErrors.CodeConflict, "payment proof already used")
	}

	available := s.unownedLocked(p.Now)
	if len(available) < p.Quantity {
		return nil, dErrors.New(dErrors.CodeSoldOut, "not enough credentials in stock")
	}

	// Sell oldest stock first so shelf-life losses stay minimal.
	sortCredentials(available, models.SortByCreated)

	assigned := make([]*models.Credential, 0, p.Quantity)
	for _, c := range available[:p.Quantity] {
		c.Owner = p.Owner
		c.IssuedAt = p.Now
		c.ExpiresAt = p.Now.Add(c.Validity)
		cp := *c
		assigned = append(assigned, &cp)
	}
	s.usedPayments[p.PaymentTxID] = struct{}{}
	return assigned, nil
}

func (s *Store) DecrementUses(_ context.Context, id domain.CredentialID) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.credentials[id]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	if c.UsageLimited && c.UsesRemaining > 0 {
		c.UsesRemaining--
	}
	cp := *c
	return &cp, nil
}

// unownedLocked returns live pointers to unowned, unexpired credentials.
// Callers must hold at least a read lock.
func (s *Store) unownedLocked(now time.Time) []*models.Credential {
	var out []*models.Credential
	for _, c := range s.credentials {
		if c.Status(now) == models.StatusUnowned && now.Before(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	return out
}

// sortCredentials orders in place with the credential ID as a tiebreak so
// repeated listings are stable.
func sortCredentials(creds []*models.Credential, key models.SortKey) {
	sort.Slice(creds, func(i, j int) bool {
		a, b := creds[i], creds[j]
		switch key {
		case models.SortByPrice:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case models.SortByExpiry:
			if !a.ExpiresAt.Equal(b.ExpiresAt) {
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
		default:
			if !a.MintedAt.Equal(b.MintedAt) {
				return a.MintedAt.Before(b.MintedAt)
			}
		}
		return a.ID.String() < b.ID.String()
	})
}
