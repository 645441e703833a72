package responses

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache holds a user's current answers between requests. Entries expire
// after a fixed TTL and are dropped on writes and on logout.
type Cache interface {
	Get(ctx context.Context, userID string) (Answers, bool)
	Set(ctx context.Context, userID string, answers Answers)
	Invalidate(ctx context.Context, userID string) error
}

type MemoryCache struct {
	lru *expirable.LRU[string, Answers]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, Answers](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, userID string) (Answers, bool) {
	return m.lru.Get(userID)
}

func (m *MemoryCache) Set(_ context.Context, userID string, answers Answers) {
	m.lru.Add(userID, answers)
}

func (m *MemoryCache) Invalidate(_ context.Context, userID string) error {
	m.lru.Remove(userID)
	return nil
}

const redisKeyPrefix = "visualize:responses:"

// RedisCache shares entries across API instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (Answers, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if err != nil {
		return nil, false
	}
	var answers Answers
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, false
	}
	return answers, true
}

func (r *RedisCache) Set(ctx context.Context, userID string, answers Answers) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return
	}
	// a failed write only costs a cache miss
	_ = r.client.Set(ctx, redisKeyPrefix+userID, raw, r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, redisKeyPrefix+userID).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
