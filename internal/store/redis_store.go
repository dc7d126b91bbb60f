package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"expensifyos/internal/domain"
)

// RedisCookieStore keeps cookie jars in Redis under <prefix><source>, for
// deployments where runs do not share a filesystem (CI runners, containers).
type RedisCookieStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCookieStore connects to addr. Keys are namespaced by prefix.
func NewRedisCookieStore(addr, password string, db int, prefix string) *RedisCookieStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "expensify-os:cookies:"
	}
	return &RedisCookieStore{client: rdb, prefix: prefix}
}

// Ping checks the connection.
func (s *RedisCookieStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCookieStore) LoadCookies(ctx context.Context, source domain.Source) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+source.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get cookies for %s: %w", source, err)
	}
	return b, true, nil
}

// SaveCookies stores the jar without a TTL; the remote site decides expiry.
func (s *RedisCookieStore) SaveCookies(ctx context.Context, source domain.Source, blob []byte) error {
	if err := s.client.Set(ctx, s.prefix+source.String(), blob, 0).Err(); err != nil {
		return fmt.Errorf("redis set cookies for %s: %w", source, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisCookieStore) Close() error { return s.client.Close() }

// Compile-time assertion that RedisCookieStore implements domain.CookieStore.
var _ domain.CookieStore = (*RedisCookieStore)(nil)
