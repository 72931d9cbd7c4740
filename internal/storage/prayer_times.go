package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tazhate/azancall/internal/domain"
)

func (s *Storage) GetPrayerRow(ctx context.Context, month string, day int) (*domain.PrayerRow, error) {
	r := &domain.PrayerRow{}
	err := s.db.QueryRowContext(ctx, `
		SELECT month_name, day, fajr, sunrise, dhuhr, asr, maghrib, isha
		FROM prayer_times WHERE month_name = ? AND day = ?`, month, day).
		Scan(&r.Month, &r.Day, &r.Fajr, &r.Sunrise, &r.Dhuhr, &r.Asr, &r.Maghrib, &r.Isha)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prayer row %s %d: %w", month, day, err)
	}
	return r, nil
}

// ReplacePrayerRows upserts rows in one transaction.
func (s *Storage) ReplacePrayerRows(ctx context.Context, rows []domain.PrayerRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO prayer_times (month_name, day, fajr, sunrise, dhuhr, asr, maghrib, isha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Month, r.Day, r.Fajr, r.Sunrise, r.Dhuhr, r.Asr, r.Maghrib, r.Isha); err != nil {
			return fmt.Errorf("insert %s %d: %w", r.Month, r.Day, err)
		}
	}

	return tx.Commit()
}

func (s *Storage) CountPrayerRows(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prayer_times`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count prayer rows: %w", err)
	}
	return n, nil
}
