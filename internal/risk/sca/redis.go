package sca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trustledger/pkg/platform/sentinel"
)

const (
	attemptTTL = 7 * 24 * time.Hour
	deviceTTL  = 180 * 24 * time.Hour
	// windowTTL bounds how long an idle user's frequency set survives.
	windowTTL = 30 * 24 * time.Hour
)

// RedisStore implements AttemptStore, FrequencyCounter and DeviceRegistry on
// Redis. Attempt frequency is a sorted set scored by attempt time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "trustledger:sca:"}
}

func (s *RedisStore) attemptKey(id string) string    { return s.prefix + "attempt:" + id }
func (s *RedisStore) frequencyKey(user string) string { return s.prefix + "freq:" + user }
func (s *RedisStore) deviceKey(user string) string    { return s.prefix + "devices:" + user }

func (s *RedisStore) Save(ctx context.Context, a *Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode authentication attempt: %w", err)
	}
	if err := s.client.Set(ctx, s.attemptKey(a.ID), data, attemptTTL).Err(); err != nil {
		return fmt.Errorf("save authentication attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Attempt, error) {
	data, err := s.client.Get(ctx, s.attemptKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("authentication attempt %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load authentication attempt: %w", err)
	}
	var a Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode authentication attempt: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) Add(ctx context.Context, userID string, at time.Time) error {
	key := s.frequencyKey(userID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-windowTTL).UnixMilli(), 10))
	pipe.Expire(ctx, key, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record authentication attempt: %w", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, s.frequencyKey(userID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count authentication attempts: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Known(ctx context.Context, userID, fingerprint string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.deviceKey(userID), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("check device: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Remember(ctx context.Context, userID, fingerprint string) error {
	key := s.deviceKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, fingerprint)
	pipe.Expire(ctx, key, deviceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remember device: %w", err)
	}
	return nil
}
