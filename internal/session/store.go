// Package session keeps per-session MFA state in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-mfa/pkg/domain"
)

const (
	defaultPrefix    = "mfa:session"
	maxUpdateRetries = 5
)

// RedisStateStore implements auth.SessionStateStore on Redis. Each session is
// one JSON value whose TTL follows the access token.
type RedisStateStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a store. An empty prefix selects "mfa:session".
func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStateStore{redis: client, prefix: prefix}
}

func (s *RedisStateStore) key(sessionID uuid.UUID) string {
	return s.prefix + ":" + sessionID.String()
}

// Load returns domain.ErrSessionNotFound for unknown or expired sessions.
func (s *RedisStateStore) Load(ctx context.Context, sessionID uuid.UUID) (domain.SessionState, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("failed to load session state: %w", err)
	}

	return decodeState(data)
}

func decodeState(data []byte) (domain.SessionState, error) {
	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("failed to decode session state: %w", err)
	}
	return state, nil
}

// Save stores state and resets its TTL.
func (s *RedisStateStore) Save(ctx context.Context, sessionID uuid.UUID, state domain.SessionState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// Update applies fn to the stored state under WATCH and writes the result
// back with a fresh TTL. Nothing is written when fn returns an error.
func (s *RedisStateStore) Update(ctx context.Context, sessionID uuid.UUID, ttl time.Duration, fn func(*domain.SessionState) error) error {
	key := s.key(sessionID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session state: %w", err)
		}
		state, err := decodeState(data)
		if err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		data, err = json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode session state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update session state: gave up after %d conflicts", maxUpdateRetries)
}

// Delete removes the session. Deleting an unknown session is not an error.
func (s *RedisStateStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}
