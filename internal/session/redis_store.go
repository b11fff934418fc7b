// Package session keeps live participant runner state and revoked
// researcher tokens in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

var (
	ErrNotFound = errors.New("session not found or expired")
	ErrExists   = errors.New("session already exists")
	ErrConflict = errors.New("session changed concurrently")
)

const (
	statePrefix   = "pcibex:session:"
	revokedPrefix = "pcibex:revoked:"
	// Optimistic transactions give up after this many lost races.
	updateAttempts = 5
)

// RedisStore stores one JSON-encoded experiment.State per session.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. Idle sessions expire after ttl.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(sessionID string) string {
	return statePrefix + sessionID
}

// Create stores the initial state of a new session.
func (s *RedisStore) Create(ctx context.Context, state *experiment.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, stateKey(state.SessionID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*experiment.State, error) {
	raw, err := s.client.Get(ctx, stateKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeState(raw)
}

func decodeState(raw []byte) (*experiment.State, error) {
	var state experiment.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &state, nil
}

// Update loads the session under WATCH, applies fn and writes the result back
// in a MULTI block, so concurrent requests for one session are serialized.
// If fn returns an error nothing is written and the error is returned
// together with the state fn saw.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn func(*experiment.State) error) (*experiment.State, error) {
	key := stateKey(sessionID)
	var result *experiment.State
	var fnErr error

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		state, err := decodeState(raw)
		if err != nil {
			return err
		}
		result = state
		if fnErr = fn(state); fnErr != nil {
			return nil
		}
		updated, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal session state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < updateAttempts; attempt++ {
		result, fnErr = nil, nil
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, fnErr
	}
	return nil, ErrConflict
}

// RevokeToken blocks a researcher token id until the token would have
// expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
