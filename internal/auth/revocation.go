package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers logged-out token IDs until they would have
// expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevocationStore keeps revoked token IDs as expiring Redis keys, so
// every worker and every replica sees a logout.
type RedisRevocationStore struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisRevocationStore(client redis.UniversalClient, namespace string) *RedisRevocationStore {
	if namespace == "" {
		namespace = "eventboard"
	}
	return &RedisRevocationStore{client: client, namespace: namespace}
}

func (s *RedisRevocationStore) key(tokenID string) string {
	return fmt.Sprintf("%s:revoked:%s", s.namespace, tokenID)
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return ErrInvalidToken
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.client.Get(ctx, s.key(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}

// NopRevocationStore is used when no Redis is configured: logout only clears
// the client cookie and tokens stay valid until expiry.
type NopRevocationStore struct{}

func (NopRevocationStore) Revoke(context.Context, string, time.Duration) error { return nil }

func (NopRevocationStore) IsRevoked(context.Context, string) (bool, error) { return false, nil }
