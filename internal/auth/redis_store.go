package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "openair:session:"

// RedisSessionStore keeps sessions in Redis. Each record carries a TTL equal
// to its absolute expiry, so Redis evicts stale sessions on its own and
// PurgeExpired has nothing to do.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore opens a Redis-backed session store from a redis:// URL.
func NewRedisSessionStore(url string) (*RedisSessionStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis session url required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis session url: %w", err)
	}
	return &RedisSessionStore{client: redis.NewClient(opts)}, nil
}

// NewRedisSessionStoreFromClient wraps an existing client. Used by tests and
// callers that share a connection.
func NewRedisSessionStoreFromClient(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Close releases the Redis client.
func (s *RedisSessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type redisSessionRecord struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// Save stores the session record keyed by token hash.
func (s *RedisSessionStore) Save(ctx context.Context, record SessionRecord) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	payload, err := json.Marshal(redisSessionRecord{
		UserID:            record.UserID,
		ExpiresAt:         record.ExpiresAt.UTC(),
		AbsoluteExpiresAt: record.AbsoluteExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	ttl := time.Until(record.AbsoluteExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, redisSessionPrefix+record.TokenHash, payload, ttl).Err()
}

// Get retrieves the session record for the provided token hash.
func (s *RedisSessionStore) Get(ctx context.Context, tokenHash string) (SessionRecord, bool, error) {
	if s.client == nil {
		return SessionRecord{}, false, fmt.Errorf("redis session client not configured")
	}
	payload, err := s.client.Get(ctx, redisSessionPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	var decoded redisSessionRecord
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return SessionRecord{
		TokenHash:         tokenHash,
		UserID:            decoded.UserID,
		ExpiresAt:         decoded.ExpiresAt,
		AbsoluteExpiresAt: decoded.AbsoluteExpiresAt,
	}, true, nil
}

// Delete removes the session key.
func (s *RedisSessionStore) Delete(ctx context.Context, tokenHash string) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Del(ctx, redisSessionPrefix+tokenHash).Err()
}

// PurgeExpired is a no-op: Redis evicts sessions via key TTLs.
func (s *RedisSessionStore) PurgeExpired(context.Context, time.Time) error {
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Ping(ctx).Err()
}
