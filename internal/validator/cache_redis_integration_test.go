//go:build integration

package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"wxpass/internal/validator"
	"wxpass/pkg/domain"
	"wxpass/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *validator.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = validator.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestSetGetRoundTrip() {
	ctx := context.Background()
	identity := domain.Address("OWNER")
	uses := 3
	grant := &validator.Grant{
		CredentialID:     domain.NewCredentialID(),
		ExpiresAt:        time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		RemainingSeconds: 3600,
		UsesRemaining:    &uses,
	}

	s.Require().NoError(s.cache.Set(ctx, identity, grant, time.Minute))

	got, ok, err := s.cache.Get(ctx, identity)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(grant.CredentialID, got.CredentialID)
	s.True(grant.ExpiresAt.Equal(got.ExpiresAt))
	s.Require().NotNil(got.UsesRemaining)
	s.Equal(3, *got.UsesRemaining)
}

func (s *RedisCacheSuite) TestMissOnUnknownIdentity() {
	_, ok, err := s.cache.Get(context.Background(), domain.Address("UNKNOWN"))
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestTTLExpiry() {
	ctx := context.Background()
	identity := domain.Address("OWNER")
	grant := &validator.Grant{CredentialID: domain.NewCredentialID(), ExpiresAt: time.Now().Add(time.Hour)}

	s.Require().NoError(s.cache.Set(ctx, identity, grant, 100*time.Millisecond))
	time.Sleep(200 * time.Millisecond)

	_, ok, err := s.cache.Get(ctx, identity)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestInvalidate() {
	ctx := context.Background()
	identity := domain.Address("OWNER")
	grant := &validator.Grant{CredentialID: domain.NewCredentialID(), ExpiresAt: time.Now().Add(time.Hour)}

	s.Require().NoError(s.cache.Set(ctx, identity, grant, time.Minute))
	s.Require().NoError(s.cache.Invalidate(ctx, identity))

	_, ok, err := s.cache.Get(ctx, identity)
	s.Require().NoError(err)
	s.False(ok)
}
