package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zackwarn/screentimed/internal/storage"
)

type progressStore struct {
	client *redis.Client
}

func progressKey(date string) string {
	return fmt.Sprintf("screentimed:progress:%s", date)
}

// IncrementScreenTime atomically increments (or creates) the daily aggregate
func (s *progressStore) IncrementScreenTime(ctx context.Context, date string, minutes int) error {
	script := redis.NewScript(incrementProgressScript)

	keys := []string{progressKey(date)}
	args := []interface{}{date, minutes, retentionSeconds}

	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *progressStore) GetProgress(ctx context.Context, date string) (*storage.DailyProgress, error) {
	data, err := s.client.HGetAll(ctx, progressKey(date)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseDailyProgress(data)
}

// DeleteProgressBefore scans progress keys and removes aggregates older than
// the cutoff date. TTL handles the common case; this backs the pruning job.
func (s *progressStore) DeleteProgressBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		keys, cursor, err = s.client.Scan(ctx, cursor, "screentimed:progress:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		toDelete := make([]string, 0)
		for _, key := range keys {
			date, err := s.client.HGet(ctx, key, "date").Result()
			if err != nil {
				continue
			}
			dateValue, err := time.Parse("2006-01-02", date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				toDelete = append(toDelete, key)
			}
		}

		if len(toDelete) > 0 {
			deleted, err := s.client.Del(ctx, toDelete...).Result()
			if err != nil {
				return deletedCount, err
			}
			deletedCount += int(deleted)
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
