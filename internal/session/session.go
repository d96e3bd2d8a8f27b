// Package session provides the TTL key-value store that backs
// authentication tokens.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store maps opaque tokens to user ids with a per-key TTL.
//
// The liveness flag is updated only by connection lifecycle events: a
// successful (re)connect sets it, an observed command failure clears it.
// Between events the flag can be stale, so operations are attempted
// regardless of its value and may still fail at call time.
type Store struct {
	client *redis.Client
	alive  atomic.Bool
}

// New creates a session store connected to the Redis instance at addr.
func New(addr string) *Store {
	s := &Store{}
	s.client = redis.NewClient(&redis.Options{
		Addr: addr,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			s.alive.Store(true)
			return nil
		},
	})
	s.alive.Store(true)
	return s
}

// IsAlive reports the last observed connectivity state.
func (s *Store) IsAlive() bool {
	return s.alive.Load()
}

// observe updates the liveness flag from a command outcome.
func (s *Store) observe(err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		s.alive.Store(false)
		return
	}
	s.alive.Store(true)
}

// Get returns the value for key. The second return is false when the key
// is absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	s.observe(err)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores or overwrites key with an expiry. Token uniqueness is the
// caller's responsibility; no compare-and-set is offered.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.client.Set(ctx, key, value, ttl).Err()
	s.observe(err)
	return err
}

// Del removes key immediately, ignoring any remaining TTL.
func (s *Store) Del(ctx context.Context, key string) error {
	err := s.client.Del(ctx, key).Err()
	s.observe(err)
	return err
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
