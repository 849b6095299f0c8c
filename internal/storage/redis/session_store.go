package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zackwarn/screentimed/internal/storage"
)

type sessionStore struct {
	client *redis.Client
}

const recentSessionsKey = "screentimed:sessions:recent"

func sessionKey(id string) string {
	return fmt.Sprintf("screentimed:session:%s", id)
}

func sessionIndexKey(date, pkg string) string {
	return fmt.Sprintf("screentimed:sessions:%s:%s", date, pkg)
}

// AppendSession writes the session hash, its per-day index and the recency
// rank in one script call.
func (s *sessionStore) AppendSession(ctx context.Context, session storage.UsageSession) error {
	if session.ID == "" {
		id, err := generateSessionID()
		if err != nil {
			return err
		}
		session.ID = id
	}

	script := redis.NewScript(appendSessionScript)

	keys := []string{
		sessionKey(session.ID),
		sessionIndexKey(session.Date, session.PackageName),
		recentSessionsKey,
	}
	args := []interface{}{
		session.ID,
		session.PackageName,
		session.Date,
		session.StartTime,
		session.EndTime,
		session.DurationMinutes,
		retentionSeconds,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *sessionStore) ListSessions(ctx context.Context, pkg string, date string) ([]storage.UsageSession, error) {
	ids, err := s.client.SMembers(ctx, sessionIndexKey(date, pkg)).Result()
	if err != nil {
		return nil, err
	}

	return s.fetchSessions(ctx, ids)
}

func (s *sessionStore) SumUsageForDate(ctx context.Context, pkg string, date string) (int, error) {
	sessions, err := s.ListSessions(ctx, pkg, date)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, session := range sessions {
		total += session.DurationMinutes
	}
	return total, nil
}

func (s *sessionStore) RecentSessions(ctx context.Context, limit int) ([]storage.UsageSession, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	// Newest first by start time
	ids, err := s.client.ZRevRange(ctx, recentSessionsKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	return s.fetchSessions(ctx, ids)
}

func (s *sessionStore) fetchSessions(ctx context.Context, ids []string) ([]storage.UsageSession, error) {
	if len(ids) == 0 {
		return []storage.UsageSession{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.UsageSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseUsageSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// DeleteSessionsBefore scans session keys and removes records older than the
// cutoff date, along with their index entries. The retention TTL already
// bounds growth; this keeps the scheduled pruning authoritative.
func (s *sessionStore) DeleteSessionsBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		keys, cursor, err = s.client.Scan(ctx, cursor, "screentimed:session:*", 100).Result()
		if err != nil {
			return deletedCount, err
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}

			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return deletedCount, err
			}

			toDelete := make([]string, 0)
			for i, cmd := range cmds {
				data, err := cmd.Result()
				if err != nil || len(data) == 0 {
					continue
				}

				dateValue, err := time.Parse("2006-01-02", data["date"])
				if err != nil {
					continue
				}

				if dateValue.Before(cutoff) {
					toDelete = append(toDelete, keys[i])
					if id, ok := data["id"]; ok {
						s.client.ZRem(ctx, recentSessionsKey, id)
						s.client.SRem(ctx, sessionIndexKey(data["date"], data["package_name"]), id)
					}
				}
			}

			if len(toDelete) > 0 {
				deleted, err := s.client.Del(ctx, toDelete...).Result()
				if err != nil {
					return deletedCount, err
				}
				deletedCount += int(deleted)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
