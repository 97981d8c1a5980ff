package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	domain "bnpl-engine/internal/domain/idempotency"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "idemp:op:"
	// How long an in-progress marker survives if the process dies mid-operation.
	provisionalLockTTL = 60 * time.Second
)

var _ domain.Store = (*RedisStore)(nil)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func buildKey(key string) string { return keyPrefix + key }

func (s *RedisStore) Reserve(ctx context.Context, key string, entry domain.Entry) (bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, buildKey(key), payload, provisionalLockTTL).Result()
}

func (s *RedisStore) Load(ctx context.Context, key string) (domain.Entry, error) {
	var e domain.Entry
	v, err := s.rdb.Get(ctx, buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, domain.ErrEntryNotFound
	}
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return e, err
	}
	return e, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, entry domain.Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, buildKey(key), payload, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, buildKey(key)).Err()
}
