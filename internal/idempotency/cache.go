package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
)

// Cache — необязательный кэш недавних результатов по ключу идемпотентности.
// Источник истины — уникальный ключ в хранилище; кэш лишь сокращает путь
// для свежих повторов.
type Cache interface {
	Get(ctx context.Context, key string) (*model.Sale, error)
	Set(ctx context.Context, key string, sale *model.Sale) error
}

// RedisCache хранит зафиксированные продажи в Redis с TTL, равным окну
// идемпотентности.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создаёт кэш, подключённый к указанному адресу Redis.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Get возвращает продажу по ключу идемпотентности либо nil, если записи нет.
func (c *RedisCache) Get(ctx context.Context, key string) (*model.Sale, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sale model.Sale
	if err := json.Unmarshal(data, &sale); err != nil {
		return nil, fmt.Errorf("decode cached sale: %w", err)
	}
	return &sale, nil
}

// Set сохраняет зафиксированную продажу под ключом идемпотентности.
func (c *RedisCache) Set(ctx context.Context, key string, sale *model.Sale) error {
	data, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("encode sale: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func cacheKey(key string) string {
	return "sale:idem:" + key
}
