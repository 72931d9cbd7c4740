package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
)

type PrayerRowStore interface {
	GetPrayerRow(ctx context.Context, month string, day int) (*domain.PrayerRow, error)
}

// DailySnapshot is today's and tomorrow's table rows resolved into instants.
type DailySnapshot struct {
	Date       string                 `json:"date"`
	HourOffset bool                   `json:"hour_offset"`
	Today      []domain.PrayerInstant `json:"today"`
	Tomorrow   []domain.PrayerInstant `json:"tomorrow"`
}

type Upcoming struct {
	Name      domain.PrayerName `json:"name"`
	At        time.Time         `json:"at"`
	Iqama     time.Time         `json:"iqama"`
	Remaining time.Duration     `json:"remaining"`
}

// PrayerTimes serves the lookup table and caches the resolved day until the
// date rolls over or Invalidate is called.
type PrayerTimes struct {
	rows     PrayerRowStore
	settings SettingsReader
	clock    clockwork.Clock
	loc      *time.Location

	mu   sync.Mutex
	snap *DailySnapshot
}

func NewPrayerTimes(rows PrayerRowStore, settings SettingsReader, clock clockwork.Clock, loc *time.Location) *PrayerTimes {
	return &PrayerTimes{rows: rows, settings: settings, clock: clock, loc: loc}
}

// GetRow reads straight from the table, bypassing the snapshot.
func (p *PrayerTimes) GetRow(ctx context.Context, month string, day int) (*domain.PrayerRow, error) {
	return p.rows.GetPrayerRow(ctx, month, day)
}

func (p *PrayerTimes) Invalidate() {
	p.mu.Lock()
	p.snap = nil
	p.mu.Unlock()
	log.Debug().Str("component", "prayer_times").Msg("snapshot invalidated")
}

func (p *PrayerTimes) Snapshot(ctx context.Context) (*DailySnapshot, error) {
	now := p.clock.Now().In(p.loc)
	date := now.Format("2006-01-02")
	offset := p.settings.HourOffset(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snap != nil && p.snap.Date == date && p.snap.HourOffset == offset {
		return p.snap, nil
	}

	snap := &DailySnapshot{Date: date, HourOffset: offset}
	today, err := p.rowFor(ctx, now)
	if err != nil {
		return nil, err
	}
	if today != nil {
		snap.Today = resolveRow(*today, now, p.loc, offset)
	}

	next := now.AddDate(0, 0, 1)
	tomorrow, err := p.rowFor(ctx, next)
	if err != nil {
		return nil, err
	}
	if tomorrow != nil {
		snap.Tomorrow = resolveRow(*tomorrow, next, p.loc, offset)
	}

	p.snap = snap
	return snap, nil
}

func (p *PrayerTimes) rowFor(ctx context.Context, t time.Time) (*domain.PrayerRow, error) {
	row, err := p.rows.GetPrayerRow(ctx, domain.MonthAbbrev(t.Month()), t.Day())
	if err != nil {
		return nil, fmt.Errorf("prayer row for %s: %w", t.Format("2006-01-02"), err)
	}
	return row, nil
}

// NextUpcoming returns the next prayer of today, sunrise included, or
// tomorrow's Fajr once Isha has passed. Nil means the table has no data.
func (p *PrayerTimes) NextUpcoming(ctx context.Context) (*Upcoming, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now()

	pick := func(pi domain.PrayerInstant) *Upcoming {
		iqama := p.settings.IqamaOffsetMinutes(ctx, pi.Name.Index())
		return &Upcoming{
			Name:      pi.Name,
			At:        pi.At,
			Iqama:     pi.At.Add(time.Duration(iqama) * time.Minute),
			Remaining: pi.At.Sub(now),
		}
	}

	for _, pi := range snap.Today {
		if pi.At.After(now) {
			return pick(pi), nil
		}
	}
	for _, pi := range snap.Tomorrow {
		if pi.Name == domain.Fajr {
			return pick(pi), nil
		}
	}
	return nil, nil
}

func resolveRow(row domain.PrayerRow, date time.Time, loc *time.Location, hourOffset bool) []domain.PrayerInstant {
	out := make([]domain.PrayerInstant, 0, len(domain.AllPrayers))
	for _, name := range domain.AllPrayers {
		at, err := row.Resolve(name, date, loc)
		if err != nil {
			log.Warn().Err(err).Str("component", "prayer_times").Str("month", row.Month).Int("day", row.Day).Msg("bad table entry")
			continue
		}
		if hourOffset {
			at = at.Add(time.Hour)
		}
		out = append(out, domain.PrayerInstant{Name: name, At: at})
	}
	return out
}
