package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/creastat/hotline"
	"github.com/redis/go-redis/v9"
)

// redisStore implements Store using Redis with optimistic locking.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

// Create implements Store.
func (s *redisStore) Create(ctx context.Context, state *CallState) error {
	now := time.Now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1

	val, err := json.Marshal(state)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(state.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return hotline.ErrDuplicate
	}
	return nil
}

// Get implements Store.
func (s *redisStore) Get(ctx context.Context, id string) (*CallState, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state CallState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, err
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &state, nil
}

// Update implements Store.
func (s *redisStore) Update(ctx context.Context, state *CallState) error {
	key := s.key(state.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return hotline.ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored CallState
		if err := json.Unmarshal(val, &stored); err != nil {
			return err
		}
		if stored.Version != state.Version {
			return hotline.ErrVersionConflict
		}

		next := state.Clone()
		next.Version++
		next.UpdatedAt = time.Now()

		newVal, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		state.Version = next.Version
		state.UpdatedAt = next.UpdatedAt
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return hotline.ErrVersionConflict
	}
	return err
}

// Delete implements Store.
func (s *redisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
