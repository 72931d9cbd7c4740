package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
)

const (
	OutcomeSuccess  = "success"
	OutcomeDisabled = "disabled"
	OutcomeNoData   = "no_data"
	OutcomeFailed   = "failed"
)

type RunReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	Attempted int           `json:"attempted"`
	Scheduled int           `json:"scheduled"`
	Error     string        `json:"error,omitempty"`
}

// Rescheduler rebuilds today's bookings from the prayer table. Every run
// cancels everything first, so running it twice is the same as running it once.
type Rescheduler struct {
	settings SettingsReader
	source   PrayerTimeSource
	alarms   *AlarmScheduler
	codec    *KeyCodec
	clock    clockwork.Clock
	loc      *time.Location
	metrics  Metrics

	mu sync.Mutex

	lastMu sync.RWMutex
	last   RunReport
}

func NewRescheduler(settings SettingsReader, source PrayerTimeSource, alarms *AlarmScheduler, codec *KeyCodec, clock clockwork.Clock, loc *time.Location, m Metrics) *Rescheduler {
	return &Rescheduler{
		settings: settings,
		source:   source,
		alarms:   alarms,
		codec:    codec,
		clock:    clock,
		loc:      loc,
		metrics:  orNop(m),
	}
}

// Run performs one reconciliation. A returned error asks the job host to retry.
func (r *Rescheduler) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.clock.Now()
	report := RunReport{RunID: uuid.NewString(), StartedAt: started}
	logger := log.With().Str("component", "rescheduler").Str("run_id", report.RunID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconcile panicked: %v", rec)
		}
		report.Duration = r.clock.Since(started)
		if err != nil {
			report.Outcome = OutcomeFailed
			report.Error = err.Error()
			logger.Error().Err(err).Dur("elapsed", report.Duration).Msg("reconciliation failed")
		}
		r.metrics.ReconcileFinished(report.Outcome, report.Duration)
		r.setLast(report)
	}()

	r.codec.Advance()

	if !r.settings.Enabled(ctx) {
		n := r.alarms.CancelAll(ctx)
		report.Outcome = OutcomeDisabled
		logger.Info().Int("cancelled", n).Msg("azan disabled, nothing booked")
		return nil
	}

	now := r.clock.Now().In(r.loc)
	month, day := domain.MonthAbbrev(now.Month()), now.Day()

	row, err := r.source.GetRow(ctx, month, day)
	if err != nil {
		return fmt.Errorf("fetch row %s %d: %w", month, day, err)
	}
	if row == nil {
		r.alarms.CancelAll(ctx)
		report.Outcome = OutcomeNoData
		logger.Warn().Str("month", month).Int("day", day).Msg("no prayer row for today")
		return nil
	}

	batch := r.candidates(ctx, *row, now)
	res := r.alarms.Rebook(ctx, batch)

	report.Outcome = OutcomeSuccess
	report.Attempted = res.Attempted
	report.Scheduled = res.Scheduled
	logger.Info().Int("scheduled", res.Scheduled).Int("attempted", res.Attempted).
		Dur("elapsed", r.clock.Since(started)).Msg("reconciliation done")
	return nil
}

// candidates resolves the actionable times of row for today. The hour offset
// is applied before the comparison with now.
func (r *Rescheduler) candidates(ctx context.Context, row domain.PrayerRow, now time.Time) []domain.PrayerInstant {
	offset := r.settings.HourOffset(ctx)

	var out []domain.PrayerInstant
	for _, pi := range resolveRow(row, now, r.loc, offset) {
		if !pi.Name.Actionable() {
			continue
		}
		if !pi.At.After(now) {
			log.Debug().Str("component", "rescheduler").Str("event", string(pi.Name)).Time("at", pi.At).Msg("already passed")
			continue
		}
		out = append(out, pi)
	}
	return out
}

func (r *Rescheduler) LastRun() RunReport {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

func (r *Rescheduler) setLast(rep RunReport) {
	r.lastMu.Lock()
	r.last = rep
	r.lastMu.Unlock()
}
