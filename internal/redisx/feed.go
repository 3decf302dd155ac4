package redisx

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// StaffFeed is a capped Redis list of recent order activity plus the dedup keys
// that keep redelivered events out of it.
type StaffFeed struct {
	rdb      *redis.Client
	consumer string
	size     int64
}

func NewStaffFeed(rdb *redis.Client, consumer string, size int64) *StaffFeed {
	if size <= 0 {
		size = 500
	}
	return &StaffFeed{rdb: rdb, consumer: consumer, size: size}
}

// MarkSeen returns true the first time eventID is seen within TTLDedup.
func (f *StaffFeed) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	ok, err := f.rdb.SetNX(ctx, DedupKey(f.consumer, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, errors.Wrap(err, "mark event seen")
	}
	return ok, nil
}

// Forget releases a dedup key so a failed event can be retried.
func (f *StaffFeed) Forget(ctx context.Context, eventID string) error {
	return errors.Wrap(f.rdb.Del(ctx, DedupKey(f.consumer, eventID)).Err(), "forget event")
}

func (f *StaffFeed) Push(ctx context.Context, entry string) error {
	_, err := f.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, KeyStaffFeed, entry)
		p.LTrim(ctx, KeyStaffFeed, 0, f.size-1)
		return nil
	})
	return errors.Wrap(err, "push staff feed")
}

func (f *StaffFeed) Recent(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 || n > f.size {
		n = f.size
	}
	out, err := f.rdb.LRange(ctx, KeyStaffFeed, 0, n-1).Result()
	return out, errors.Wrap(err, "read staff feed")
}
