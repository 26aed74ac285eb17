// Package admin issues bearer tokens for the minting API. The operator key is
// configured as a bcrypt hash; a successful login exchanges the plaintext key
// for a short-lived JWT whose subject is the admin's ledger address.
package admin

import (
	"context"
	"log/slog"
	"time"

	jwttoken "wxpass/internal/jwt_token"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/secrets"
)

// Service authenticates the operator and mints admin tokens.
type Service struct {
	keyHash      string
	adminAddress domain.Address
	tokens       *jwttoken.JWTService
	logger       *slog.Logger
}

func New(keyHash string, adminAddress domain.Address, tokens *jwttoken.JWTService, logger *slog.Logger) *Service {
	return &Service{
		keyHash:      keyHash,
		adminAddress: adminAddress,
		tokens:       tokens,
		logger:       logger,
	}
}

// Login verifies the operator key and returns a signed token with its
// lifetime. Wrong keys fail with the same error as a missing hash so callers
// cannot probe whether admin login is configured.
func (s *Service) Login(ctx context.Context, key string) (string, time.Duration, error) {
	if key == "" {
		return "", 0, dErrors.New(dErrors.CodeInvalidInput, "admin key is required")
	}
	if s.keyHash == "" {
		s.logger.WarnContext(ctx, "admin login attempted but no key hash is configured")
		return "", 0, dErrors.New(dErrors.CodeUnauthorized, "invalid admin key")
	}

	if err := secrets.Verify(key, s.keyHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "admin login rejected")
			return "", 0, dErrors.New(dErrors.CodeUnauthorized, "invalid admin key")
		}
		return "", 0, err
	}

	token, err := s.tokens.GenerateAdminToken(s.adminAddress)
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeInternal, "sign admin token")
	}

	s.logger.InfoContext(ctx, "admin login succeeded", "subject", s.adminAddress.Short())
	return token, s.tokens.TTL(), nil
}
