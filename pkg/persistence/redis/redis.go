// Package redis provides a Redis-backed store implementation.
package redis

import (
	"context"
	"errors"

	backend "github.com/redis/go-redis/v9"

	"github.com/voyagent/voyagent/pkg/persistence"
)

const defaultPrefix = "voyagent:"

// Store implements persistence.Store on Redis.
type Store struct {
	client backend.UniversalClient
	prefix string
}

type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore creates a Redis store from an existing client.
func NewStore(client backend.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewStoreFromURL creates a Redis store from a redis:// connection URL.
func NewStoreFromURL(url string, opts ...Option) (*Store, error) {
	options, err := backend.ParseURL(url)
	if err != nil {
		return nil, persistence.NewStoreError("Init", url, err)
	}

	return NewStore(backend.NewClient(options), opts...), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, persistence.ErrKeyNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("Get", key, err)
	}

	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return persistence.NewStoreError("Set", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return persistence.NewStoreError("Delete", key, err)
	}

	if removed == 0 {
		return persistence.ErrKeyNotFound
	}

	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}
