package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tazhate/azancall/internal/domain"
)

const defaultRedisPrefix = "azan:"

// RedisBackend keeps scheduled-event records in redis hashes, one per name.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

var _ RecordBackend = (*RedisBackend)(nil)

func NewRedisBackend(ctx context.Context, address, username, password, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", address, err)
	}

	b := &RedisBackend{rdb: rdb, prefix: prefix}
	if err := rdb.Set(ctx, b.prefix+"version", SchemaVersion, 0).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("write schema version: %w", err)
	}
	return b, nil
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

func (b *RedisBackend) eventKey(name string) string {
	return b.prefix + "event:" + name
}

func (b *RedisBackend) PutRecord(ctx context.Context, ev domain.ScheduledEvent) error {
	err := b.rdb.HSet(ctx, b.eventKey(ev.Name), map[string]interface{}{
		"scheduled_at": ev.ScheduledAt.UnixMilli(),
		"timer_key":    ev.TimerKey,
		"booked_at":    ev.BookedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("put record %s: %w", ev.Name, err)
	}
	return nil
}

func (b *RedisBackend) GetRecord(ctx context.Context, name string) (*domain.ScheduledEvent, error) {
	fields, err := b.rdb.HGetAll(ctx, b.eventKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	// Missing or garbled fields parse as zero and the store drops the record.
	scheduledAt, _ := strconv.ParseInt(fields["scheduled_at"], 10, 64)
	timerKey, _ := strconv.ParseInt(fields["timer_key"], 10, 32)
	bookedAt, _ := strconv.ParseInt(fields["booked_at"], 10, 64)

	return &domain.ScheduledEvent{
		Name:        name,
		ScheduledAt: time.UnixMilli(scheduledAt),
		TimerKey:    int32(timerKey),
		BookedAt:    time.UnixMilli(bookedAt),
	}, nil
}

func (b *RedisBackend) DeleteRecord(ctx context.Context, name string) error {
	if err := b.rdb.Del(ctx, b.eventKey(name)).Err(); err != nil {
		return fmt.Errorf("delete record %s: %w", name, err)
	}
	return nil
}

func (b *RedisBackend) ListRecordNames(ctx context.Context) ([]string, error) {
	keyPrefix := b.eventKey("")
	var names []string
	iter := b.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return names, nil
}

func (b *RedisBackend) DeleteAllRecords(ctx context.Context) error {
	names, err := b.ListRecordNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, b.eventKey(n))
	}
	if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	return nil
}

func (b *RedisBackend) SchemaVersion(ctx context.Context) (int, error) {
	v, err := b.rdb.Get(ctx, b.prefix+"version").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
