package store

import (
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Status returns the tracker status; an unset flag reads as active.
func (s *Store) Status(ctx context.Context) (domain.TrackerStatus, error) {
	v, err := s.rdb.Get(ctx, constants.KeyStatus).Result()
	if errors.Is(err, redis.Nil) {
		return domain.TrackerActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tracker status: %w", err)
	}
	return domain.TrackerStatus(v), nil
}

func (s *Store) SetStatus(ctx context.Context, status domain.TrackerStatus) error {
	if err := s.rdb.Set(ctx, constants.KeyStatus, string(status), 0).Err(); err != nil {
		return fmt.Errorf("failed to set tracker status: %w", err)
	}
	return nil
}

// CompareAndSwapStatus sets the status to next only while it still equals
// expected. It reports whether the swap happened.
func (s *Store) CompareAndSwapStatus(ctx context.Context, expected, next domain.TrackerStatus) (bool, error) {
	swapped := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, constants.KeyStatus).Result()
		if errors.Is(err, redis.Nil) {
			current = string(domain.TrackerActive)
		} else if err != nil {
			return err
		}
		if current != string(expected) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, constants.KeyStatus, string(next), 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, constants.KeyStatus)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap tracker status: %w", err)
	}
	return swapped, nil
}

// PushCacheLog prepends a progress line and trims the feed to limit once it
// has grown a quarter past it.
func (s *Store) PushCacheLog(ctx context.Context, entry domain.CacheLog, limit int) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache log: %w", err)
	}
	n, err := s.rdb.LPush(ctx, constants.KeyLogsCache, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to push cache log: %w", err)
	}
	if limit > 0 && n > int64(limit+limit/4) {
		if err := s.rdb.LTrim(ctx, constants.KeyLogsCache, 0, int64(limit-1)).Err(); err != nil {
			return fmt.Errorf("failed to trim cache log: %w", err)
		}
	}
	return nil
}

// CacheLogs returns the progress feed newest first.
func (s *Store) CacheLogs(ctx context.Context) ([]domain.CacheLog, error) {
	raws, err := s.rdb.LRange(ctx, constants.KeyLogsCache, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache logs: %w", err)
	}
	logs := make([]domain.CacheLog, 0, len(raws))
	for _, raw := range raws {
		var entry domain.CacheLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := s.GetString(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %s: %w", key, err)
	}
	return t, nil
}

func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetString(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
