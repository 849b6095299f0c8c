package bolt

import (
	"context"
	"fmt"

	"github.com/zackwarn/screentimed/internal/storage"
	"go.etcd.io/bbolt"
)

type limitStore struct {
	db *bbolt.DB
}

func (s *limitStore) GetLimit(ctx context.Context, pkg string) (*storage.AppLimit, error) {
	return getBucketValue[storage.AppLimit](ctx, s.db, bucketLimits, pkg)
}

func (s *limitStore) UpsertLimit(ctx context.Context, limit storage.AppLimit) error {
	return putBucketValue(ctx, s.db, bucketLimits, limit.PackageName, limit)
}

func (s *limitStore) DeleteLimit(ctx context.Context, pkg string) error {
	return deleteBucketValue(ctx, s.db, bucketLimits, pkg)
}

func (s *limitStore) ListLimits(ctx context.Context) ([]storage.AppLimit, error) {
	return listBucket[storage.AppLimit](ctx, s.db, bucketLimits)
}

func (s *limitStore) ListEnabledLimits(ctx context.Context) ([]storage.AppLimit, error) {
	return s.listWhere(ctx, func(l storage.AppLimit) bool { return l.Enabled })
}

func (s *limitStore) ListBlocked(ctx context.Context) ([]storage.AppLimit, error) {
	return s.listWhere(ctx, func(l storage.AppLimit) bool { return l.Blocked })
}

func (s *limitStore) listWhere(ctx context.Context, keep func(storage.AppLimit) bool) ([]storage.AppLimit, error) {
	all, err := listBucket[storage.AppLimit](ctx, s.db, bucketLimits)
	if err != nil {
		return nil, err
	}
	limits := make([]storage.AppLimit, 0, len(all))
	for _, l := range all {
		if keep(l) {
			limits = append(limits, l)
		}
	}
	return limits, nil
}

// UpdateUsageAndBlocked writes both cache fields inside a single update
// transaction so no reader can observe one without the other.
func (s *limitStore) UpdateUsageAndBlocked(ctx context.Context, pkg string, minutes int, blocked bool) error {
	return s.mutateLimit(ctx, pkg, func(l *storage.AppLimit) {
		l.UsedTodayMinutes = minutes
		l.Blocked = blocked
	})
}

func (s *limitStore) UpdateLastResetDate(ctx context.Context, pkg string, date string) error {
	return s.mutateLimit(ctx, pkg, func(l *storage.AppLimit) {
		l.LastResetDate = date
	})
}

func (s *limitStore) mutateLimit(ctx context.Context, pkg string, mutate func(*storage.AppLimit)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketLimits))
		if b == nil {
			return fmt.Errorf("limits bucket missing")
		}
		data := b.Get([]byte(pkg))
		if data == nil {
			return storage.ErrNotFound
		}
		var limit storage.AppLimit
		if err := unmarshal(data, &limit); err != nil {
			return err
		}
		mutate(&limit)
		updated, err := marshal(limit)
		if err != nil {
			return err
		}
		return b.Put([]byte(pkg), updated)
	})
}

// ResetAllDaily zeroes the usage cache on every limit row and stamps the new
// reset date. Returns the number of rows reset.
func (s *limitStore) ResetAllDaily(ctx context.Context, date string) (int, error) {
	reset := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketLimits))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var limit storage.AppLimit
			if err := unmarshal(v, &limit); err != nil {
				return err
			}
			limit.UsedTodayMinutes = 0
			limit.Blocked = false
			limit.LastResetDate = date
			data, err := marshal(limit)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}
