// Package store wraps the Redis instance shared by the HTTP process and the
// monitor: the task queue, the tracker status flag, per-target cache blobs
// and the capped progress log.
package store

import (
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("key not found")

type Store struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("redis connection established")
	return NewWithClient(rdb, logger), nil
}

func NewWithClient(rdb redis.UniversalClient, logger zerolog.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func PlayerKey(uno string) string {
	return constants.PrefixPlayer + uno
}

func GroupKey(name string) string {
	return constants.PrefixGroup + name
}

// MatchesKey names the cached match listing of a target.
func MatchesKey(platform, target, gameMode string) string {
	return fmt.Sprintf("%s%s_%s_%s", constants.PrefixMatches, platform, target, gameMode)
}

// HSetJSON stores every value of fields JSON-encoded under key.
func (s *Store) HSetJSON(ctx context.Context, key string, fields map[string]any) error {
	values := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", field, err)
		}
		values = append(values, field, encoded)
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to hset %s: %w", key, err)
	}
	return nil
}

// HGetJSON decodes one hash field into dst, reporting whether it existed.
func (s *Store) HGetJSON(ctx context.Context, key, field string, dst any) (bool, error) {
	raw, err := s.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to hget %s %s: %w", key, field, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", key, field, err)
	}
	return true, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a glob pattern.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete %s: %w", pattern, err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
