// Package kv wraps the shared TTL key-value store used for abuse counters,
// short-lived flags, and single-use state. INCR is atomic on the server; the
// caller observing n=1 is the unique window-opener and owns setting the TTL.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps transport failures so callers can decide between
// fail-closed (abuse counters) and fail-open (optional metrics) policies.
var ErrUnavailable = errors.New("kv unavailable")

// Store is a thin client over the remote TTL store.
type Store struct {
	client redis.UniversalClient
}

// Open connects using a redis URL (redis://host:port/db).
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// New wraps an existing client. Used by tests with miniredis.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Incr atomically increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// IncrWindow increments key and, when this call opened the window (n=1),
// sets the window TTL. Fixed-window semantics for all abuse counters.
func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := s.Expire(ctx, key, ttl); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Expire sets the TTL on key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

// GetInt returns the integer value for key, or zero when missing.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// SetEx stores value under key with the given TTL.
func (s *Store) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// HIncrBy increments a hash field. Used for optional per-operation metrics
// counters; callers treat failures as fail-open.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close tears down the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
