package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"aegisgate/logger"

	"github.com/redis/go-redis/v9"
)

const blockPrefix = "aegisgate:block:"

type RedisStore struct {
	Client  *redis.Client
	timeout time.Duration
}

func NewRedisStore(addr string, password string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	return &RedisStore{
		Client:  client,
		timeout: 250 * time.Millisecond,
	}
}

// Ping checks connectivity so startup can fall back to the local store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) IsBlocked(key string) bool {
	ctx, cancel := s.ctx()
	defer cancel()

	exists, err := s.Client.Exists(ctx, blockPrefix+key).Result()
	if err != nil {
		logger.Error("Redis check failed", "err", err)
		return false
	}
	return exists > 0
}

func (s *RedisStore) BlockTTL(key string) (time.Duration, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	ttl, err := s.Client.TTL(ctx, blockPrefix+key).Result()
	if err != nil {
		logger.Error("Redis TTL lookup failed", "err", err)
		return 0, false
	}
	switch {
	case ttl == -2: // missing key
		return 0, false
	case ttl == -1: // no expiry
		return 0, true
	case ttl <= 0:
		return 0, false
	}
	return ttl, true
}

func (s *RedisStore) Block(key string, expiration time.Duration, blockType string) {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.Client.Set(ctx, blockPrefix+key, blockType, expiration).Err(); err != nil {
		logger.Error("Redis block failed", "key", key, "err", err)
		return
	}
	logger.Debug("Distributed block issued", "key", key, "type", blockType, "duration", expiration)
}

func (s *RedisStore) Unblock(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Del(ctx, blockPrefix+key).Err()
}

func (s *RedisStore) ListBlocks() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blocks := make(map[string]string)
	iter := s.Client.Scan(ctx, 0, blockPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		val, err := s.Client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		blocks[strings.TrimPrefix(k, blockPrefix)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}
