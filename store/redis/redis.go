// Package redis is a shared fetchup.CacheStore on Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	fetchup "github.com/sleepcha/Fetchup"
	"github.com/sleepcha/Fetchup/internal/codec"
)

// Config selects the key namespace and the server-side lifetime of entries.
type Config struct {
	KeyPrefix string
	// TTL bounds how long Redis keeps an entry. Zero keeps it until removed;
	// validity is still decided by the reader.
	TTL time.Duration
}

// Store keeps each entry as one JSON string value.
type Store struct {
	client redis.UniversalClient
	config Config
}

var _ fetchup.CacheStore = (*Store)(nil)

// New wraps an existing client. The caller keeps ownership of client.
func New(client redis.UniversalClient, config Config) *Store {
	return &Store{client: client, config: config}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis %s", addr)
	}
	return New(client, config), nil
}

func (s *Store) buildFullKey(key string) string {
	if s.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", s.config.KeyPrefix, key)
	}
	return key
}

func (s *Store) Get(ctx context.Context, key string) (*fetchup.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.buildFullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read cache key %s", key)
	}

	entry, err := codec.UnmarshalEntry(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decode cache key %s", key)
	}
	return entry, true, nil
}

func (s *Store) Set(ctx context.Context, key string, entry *fetchup.CacheEntry) error {
	data, err := codec.MarshalEntry(entry)
	if err != nil {
		return errors.Wrapf(err, "encode cache key %s", key)
	}
	err = s.client.Set(ctx, s.buildFullKey(key), data, s.config.TTL).Err()
	return errors.Wrapf(err, "write cache key %s", key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.buildFullKey(key)).Err()
	return errors.Wrapf(err, "delete cache key %s", key)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
