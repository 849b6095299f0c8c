package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/zackwarn/screentimed/internal/storage"
)

type limitStore struct {
	client *redis.Client
}

func limitKey(pkg string) string {
	return fmt.Sprintf("screentimed:limit:%s", pkg)
}

const limitIndexKey = "screentimed:limits"

func (s *limitStore) GetLimit(ctx context.Context, pkg string) (*storage.AppLimit, error) {
	data, err := s.client.HGetAll(ctx, limitKey(pkg)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseAppLimit(data)
}

// UpsertLimit writes the full row and registers the package in the index set
func (s *limitStore) UpsertLimit(ctx context.Context, limit storage.AppLimit) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, limitKey(limit.PackageName),
		"package_name", limit.PackageName,
		"app_name", limit.AppName,
		"limit_minutes", limit.LimitMinutes,
		"enabled", boolField(limit.Enabled),
		"used_today_minutes", limit.UsedTodayMinutes,
		"last_reset_date", limit.LastResetDate,
		"blocked", boolField(limit.Blocked),
	)
	pipe.SAdd(ctx, limitIndexKey, limit.PackageName)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *limitStore) DeleteLimit(ctx context.Context, pkg string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, limitKey(pkg))
	pipe.SRem(ctx, limitIndexKey, pkg)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *limitStore) ListLimits(ctx context.Context) ([]storage.AppLimit, error) {
	return s.listWhere(ctx, func(storage.AppLimit) bool { return true })
}

func (s *limitStore) ListEnabledLimits(ctx context.Context) ([]storage.AppLimit, error) {
	return s.listWhere(ctx, func(l storage.AppLimit) bool { return l.Enabled })
}

func (s *limitStore) ListBlocked(ctx context.Context) ([]storage.AppLimit, error) {
	return s.listWhere(ctx, func(l storage.AppLimit) bool { return l.Blocked })
}

func (s *limitStore) listWhere(ctx context.Context, keep func(storage.AppLimit) bool) ([]storage.AppLimit, error) {
	pkgs, err := s.client.SMembers(ctx, limitIndexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(pkgs) == 0 {
		return []storage.AppLimit{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(pkgs))

	for i, pkg := range pkgs {
		cmds[i] = pipe.HGetAll(ctx, limitKey(pkg))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	limits := make([]storage.AppLimit, 0, len(pkgs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		limit, err := parseAppLimit(data)
		if err == nil && keep(*limit) {
			limits = append(limits, *limit)
		}
	}

	return limits, nil
}

// UpdateUsageAndBlocked atomically writes the usage cache pair via Lua so a
// concurrent reader never observes a torn update.
func (s *limitStore) UpdateUsageAndBlocked(ctx context.Context, pkg string, minutes int, blocked bool) error {
	script := redis.NewScript(updateUsageAndBlockedScript)

	updated, err := script.Run(ctx, s.client,
		[]string{limitKey(pkg)},
		strconv.Itoa(minutes), boolField(blocked),
	).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *limitStore) UpdateLastResetDate(ctx context.Context, pkg string, date string) error {
	script := redis.NewScript(updateLastResetDateScript)

	updated, err := script.Run(ctx, s.client, []string{limitKey(pkg)}, date).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ResetAllDaily resets every indexed limit row in a single script execution
func (s *limitStore) ResetAllDaily(ctx context.Context, date string) (int, error) {
	script := redis.NewScript(resetAllDailyScript)

	reset, err := script.Run(ctx, s.client, []string{limitIndexKey}, date).Int()
	if err != nil {
		return 0, err
	}
	return reset, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
