package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tazhate/azancall/internal/domain"
)

type PrayerRowWriter interface {
	ReplacePrayerRows(ctx context.Context, rows []domain.PrayerRow) error
	CountPrayerRows(ctx context.Context) (int, error)
}

// LoadPrayerRows reads a JSON array of table rows:
// [{"month_name":"Jan","day":1,"fajr":"05:12",...}]
func LoadPrayerRows(fs afero.Fs, path string) ([]domain.PrayerRow, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var rows []domain.PrayerRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, r := range rows {
		if err := validateRow(r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return rows, nil
}

func validateRow(r domain.PrayerRow) error {
	known := false
	for m := time.January; m <= time.December; m++ {
		if r.Month == domain.MonthAbbrev(m) {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown month %q", r.Month)
	}
	if r.Day < 1 || r.Day > 31 {
		return fmt.Errorf("%s: day %d out of range", r.Month, r.Day)
	}
	for _, name := range domain.AllPrayers {
		if _, err := time.Parse("15:04", r.TimeOf(name)); err != nil {
			return fmt.Errorf("%s %d: bad %s time %q", r.Month, r.Day, name, r.TimeOf(name))
		}
	}
	return nil
}

// SeedPrayerTimes loads path into the table. Unless force is set an already
// populated table is left alone.
func SeedPrayerTimes(ctx context.Context, fs afero.Fs, path string, w PrayerRowWriter, force bool) (int, error) {
	if !force {
		n, err := w.CountPrayerRows(ctx)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			log.Debug().Str("component", "seed").Int("rows", n).Msg("prayer table already populated")
			return 0, nil
		}
	}

	rows, err := LoadPrayerRows(fs, path)
	if err != nil {
		return 0, err
	}
	if err := w.ReplacePrayerRows(ctx, rows); err != nil {
		return 0, fmt.Errorf("store rows: %w", err)
	}

	log.Info().Str("component", "seed").Str("path", path).Int("rows", len(rows)).Msg("prayer table seeded")
	return len(rows), nil
}
