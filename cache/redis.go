package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/xpense-app/xpense/ledger"
)

// Config is the redis configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache implements Cache on redis. Entries carry a short TTL so stale
// data self-heals even if an invalidation is lost to a race.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a redis-backed cache.
func NewRedisCache(config Config) *RedisCache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
		ttl: ttl,
	}
}

func balanceKey(user string) string {
	return fmt.Sprintf("balance:%s", user)
}

// GetBalance reads a cached balance view.
func (c *RedisCache) GetBalance(ctx context.Context, user string) (ledger.BalanceView, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(user)).Result()
	if err == redis.Nil {
		return ledger.BalanceView{}, false, nil
	}
	if err != nil {
		return ledger.BalanceView{}, false, err
	}

	var balance ledger.BalanceView
	if err := json.Unmarshal([]byte(val), &balance); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return ledger.BalanceView{}, false, nil
	}
	return balance, true, nil
}

// SetBalance writes a balance view with the configured TTL.
func (c *RedisCache) SetBalance(ctx context.Context, user string, balance ledger.BalanceView) error {
	value, err := json.Marshal(balance)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, balanceKey(user), value, c.ttl).Err()
}

// Invalidate drops the entries for the given users.
func (c *RedisCache) Invalidate(ctx context.Context, users ...string) error {
	if len(users) == 0 {
		return nil
	}
	keys := make([]string, len(users))
	for i, u := range users {
		keys[i] = balanceKey(u)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Close releases the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
