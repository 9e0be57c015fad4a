package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/jumenclient/internal/apperrors"
)

const DefaultPrefix = "jumen:session:"

// Store keeps session values as plain redis strings under a key prefix
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates client from URL (redis://:pass@host:6379/0) and pings it
func New(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	return NewWithClient(client, DefaultPrefix), nil
}

// NewWithClient wraps existing client. Empty prefix means DefaultPrefix
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("redis store: %q: %w", key, apperrors.ErrKeyNotFound)
		}
		return "", fmt.Errorf("redis store: load %q: %w", key, err)
	}
	return v, nil
}

// Set stores value without expiration; the gateway decides when the session ends
func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: persist %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
