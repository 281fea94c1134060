package store

import (
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// QueueEntry keeps the stored encoding next to the decoded task so the exact
// element can be removed with LREM.
type QueueEntry struct {
	Raw  string
	Task domain.Task
}

func encodeTask(task *domain.Task) (string, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task %s: %w", task.Name, err)
	}
	return string(raw), nil
}

func decodeTask(raw string) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

func (s *Store) QueueEntries(ctx context.Context) ([]QueueEntry, error) {
	raws, err := s.rdb.LRange(ctx, constants.KeyTaskQueues, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task queue: %w", err)
	}

	entries := make([]QueueEntry, 0, len(raws))
	for _, raw := range raws {
		task, err := decodeTask(raw)
		if err != nil {
			s.logger.Error().Err(err).Str("raw", raw).Msg("skipping undecodable queue entry")
			continue
		}
		entries = append(entries, QueueEntry{Raw: raw, Task: *task})
	}
	return entries, nil
}

func (s *Store) Tasks(ctx context.Context) ([]domain.Task, error) {
	entries, err := s.QueueEntries(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, len(entries))
	for i, e := range entries {
		tasks[i] = e.Task
	}
	return tasks, nil
}

// HeadTask returns the first queued task or nil when the queue is empty.
func (s *Store) HeadTask(ctx context.Context) (*domain.Task, error) {
	raw, err := s.rdb.LIndex(ctx, constants.KeyTaskQueues, 0).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}
	return decodeTask(raw)
}

func (s *Store) PushTask(ctx context.Context, task *domain.Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, constants.KeyTaskQueues, raw).Err(); err != nil {
		return fmt.Errorf("failed to push task %s: %w", task.Name, err)
	}
	return nil
}

// SetHeadTask overwrites the queue head in place.
func (s *Store) SetHeadTask(ctx context.Context, task *domain.Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := s.rdb.LSet(ctx, constants.KeyTaskQueues, 0, raw).Err(); err != nil {
		return fmt.Errorf("failed to update queue head %s: %w", task.Name, err)
	}
	return nil
}

func (s *Store) RemoveEntry(ctx context.Context, raw string) (bool, error) {
	n, err := s.rdb.LRem(ctx, constants.KeyTaskQueues, 1, raw).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return n > 0, nil
}

// ReplaceQueue atomically swaps the whole queue for tasks.
func (s *Store) ReplaceQueue(ctx context.Context, tasks []domain.Task) error {
	raws := make([]any, 0, len(tasks))
	for i := range tasks {
		raw, err := encodeTask(&tasks[i])
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, constants.KeyTaskQueues)
		if len(raws) > 0 {
			pipe.RPush(ctx, constants.KeyTaskQueues, raws...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace task queue: %w", err)
	}
	return nil
}
