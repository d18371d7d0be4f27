package auth

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestRedisRevocationStore(t *testing.T) {
	m, client := newTestRedis(t)
	store := NewRedisRevocationStore(client, "test")
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Minute))
	require.True(t, m.Exists("test:revoked:jti-1"))

	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	m.FastForward(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRedisRevocationStoreSkipsExpiredTokens(t *testing.T) {
	m, client := newTestRedis(t)
	store := NewRedisRevocationStore(client, "")

	require.NoError(t, store.Revoke(context.Background(), "jti-2", 0))
	require.False(t, m.Exists("eventboard:revoked:jti-2"))
}

func TestRedisRevocationStoreUnavailable(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisRevocationStore(client, "")
	m.Close()

	_, err = store.IsRevoked(context.Background(), "jti-3")
	require.Error(t, err)
}
