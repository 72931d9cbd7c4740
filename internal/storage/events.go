package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tazhate/azancall/internal/domain"
)

// RecordBackend is the durable side of the schedule store.
// Implementations do not validate records; the store does.
type RecordBackend interface {
	PutRecord(ctx context.Context, ev domain.ScheduledEvent) error
	GetRecord(ctx context.Context, name string) (*domain.ScheduledEvent, error)
	DeleteRecord(ctx context.Context, name string) error
	ListRecordNames(ctx context.Context) ([]string, error)
	DeleteAllRecords(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
}

var _ RecordBackend = (*Storage)(nil)

func (s *Storage) PutRecord(ctx context.Context, ev domain.ScheduledEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_events (name, scheduled_at, timer_key, booked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			scheduled_at = excluded.scheduled_at,
			timer_key = excluded.timer_key,
			booked_at = excluded.booked_at`,
		ev.Name, ev.ScheduledAt.UnixMilli(), ev.TimerKey, ev.BookedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put record %s: %w", ev.Name, err)
	}
	return nil
}

func (s *Storage) GetRecord(ctx context.Context, name string) (*domain.ScheduledEvent, error) {
	var scheduledAt, timerKey, bookedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT scheduled_at, timer_key, booked_at FROM scheduled_events WHERE name = ?`, name).
		Scan(&scheduledAt, &timerKey, &bookedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", name, err)
	}

	return &domain.ScheduledEvent{
		Name:        name,
		ScheduledAt: time.UnixMilli(scheduledAt.Int64),
		TimerKey:    int32(timerKey.Int64),
		BookedAt:    time.UnixMilli(bookedAt.Int64),
	}, nil
}

func (s *Storage) DeleteRecord(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_events WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", name, err)
	}
	return nil
}

func (s *Storage) ListRecordNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM scheduled_events ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Storage) DeleteAllRecords(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_events`); err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	return nil
}
