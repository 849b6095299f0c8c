package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/zackwarn/screentimed/internal/storage"
	"go.etcd.io/bbolt"
)

type progressStore struct {
	db *bbolt.DB
}

// IncrementScreenTime adds minutes to the day's aggregate, creating the row
// on first use, inside one update transaction.
func (s *progressStore) IncrementScreenTime(ctx context.Context, date string, minutes int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketProgress))
		if b == nil {
			return fmt.Errorf("progress bucket missing")
		}
		var progress storage.DailyProgress
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &progress); err != nil {
				return err
			}
		} else {
			progress = storage.DailyProgress{Date: date}
		}
		progress.ScreenTimeMinutes += minutes
		data, err := marshal(progress)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
}

func (s *progressStore) GetProgress(ctx context.Context, date string) (*storage.DailyProgress, error) {
	return getBucketValue[storage.DailyProgress](ctx, s.db, bucketProgress, date)
}

func (s *progressStore) DeleteProgressBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketProgress))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var progress storage.DailyProgress
			if err := unmarshal(v, &progress); err != nil {
				return err
			}
			dateValue, err := time.Parse("2006-01-02", progress.Date)
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
