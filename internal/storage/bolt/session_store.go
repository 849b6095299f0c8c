package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zackwarn/screentimed/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) AppendSession(ctx context.Context, session storage.UsageSession) error {
	key, err := sessionKey(session.Date, session.PackageName, session.StartTime)
	if err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = key
	}
	return putBucketValue(ctx, s.db, bucketSessions, key, session)
}

func (s *sessionStore) ListSessions(ctx context.Context, pkg string, date string) ([]storage.UsageSession, error) {
	prefix := []byte(fmt.Sprintf("%s/%s/", date, pkg))
	sessions := make([]storage.UsageSession, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.UsageSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
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
	sessions, err := listBucket[storage.UsageSession](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime > sessions[j].StartTime
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *sessionStore) DeleteSessionsBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.UsageSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			dateValue, err := time.Parse("2006-01-02", session.Date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
