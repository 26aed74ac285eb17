package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wxpass/pkg/domain"
)

const grantKeyPrefix = "wxpass:grant:"

// RedisCache shares grants across gateway instances. Redis owns expiry via key
// TTLs, so a restarted instance never resurrects stale decisions.
type RedisCache struct {
	client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, identity domain.Address) (*Grant, bool, error) {
	raw, err := c.client.Get(ctx, grantKeyPrefix+string(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached grant: %w", err)
	}

	var grant Grant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return nil, false, fmt.Errorf("decode cached grant: %w", err)
	}
	return &grant, true, nil
}

func (c *RedisCache) Set(ctx context.Context, identity domain.Address, grant *Grant, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	if err := c.client.Set(ctx, grantKeyPrefix+string(identity), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache grant: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, identity domain.Address) error {
	if err := c.client.Del(ctx, grantKeyPrefix+string(identity)).Err(); err != nil {
		return fmt.Errorf("invalidate cached grant: %w", err)
	}
	return nil
}
