package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
)

// AlarmScheduler books prayer timers and keeps at most one live timer per name.
type AlarmScheduler struct {
	store    *ScheduleStore
	timers   TimerPort
	codec    *KeyCodec
	playback AudioPlayback
	clock    clockwork.Clock
	metrics  Metrics

	mu sync.Mutex
}

type BatchResult struct {
	Attempted int `json:"attempted"`
	Scheduled int `json:"scheduled"`
}

func NewAlarmScheduler(store *ScheduleStore, timers TimerPort, codec *KeyCodec, playback AudioPlayback, clock clockwork.Clock, m Metrics) *AlarmScheduler {
	return &AlarmScheduler{
		store:    store,
		timers:   timers,
		codec:    codec,
		playback: playback,
		clock:    clock,
		metrics:  orNop(m),
	}
}

// Schedule books name at at. It reports whether a timer is now live for it.
func (s *AlarmScheduler) Schedule(ctx context.Context, name string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, name, at)
}

func (s *AlarmScheduler) scheduleLocked(ctx context.Context, name string, at time.Time) (ok bool) {
	logger := log.With().Str("component", "scheduler").Str("event", name).Time("at", at).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("schedule failed")
			s.metrics.EventRejected("error")
			ok = false
		}
	}()

	prayer, known := domain.ParsePrayerName(name)
	if !known {
		logger.Warn().Msg("unknown event name")
		s.metrics.EventRejected("invalid")
		return false
	}
	if now := s.clock.Now(); !at.After(now) {
		logger.Info().Time("now", now).Msg("skipping past event")
		s.metrics.EventRejected("past")
		return false
	}
	if !prayer.Actionable() {
		logger.Debug().Msg("sunrise is informational, not booked")
		s.metrics.EventRejected("sunrise")
		return false
	}
	// records and timers are keyed by the canonical name the receiver uses
	name = string(prayer)

	if existing := s.store.Get(ctx, name); existing != nil {
		s.timers.Cancel(existing.TimerKey, deliverCallback(name))
		s.store.Clear(ctx, name)
		logger.Debug().Int32("old_key", existing.TimerKey).Msg("replaced existing timer")
	}

	key := s.codec.Encode(name, at)
	if !s.timers.ScheduleOneShot(key, at, deliverCallback(name)) {
		logger.Error().Int32("key", key).Msg("timer registration refused")
		s.metrics.EventRejected("timer")
		return false
	}
	if !s.store.Save(ctx, name, at, key) {
		// a timer without a record could never be cancelled
		s.timers.Cancel(key, deliverCallback(name))
		logger.Error().Int32("key", key).Msg("record not saved, timer withdrawn")
		s.metrics.EventRejected("store")
		return false
	}

	logger.Info().Int32("key", key).Bool("exact", s.timers.CanScheduleExact()).Msg("event booked")
	s.metrics.EventBooked(name)
	return true
}

// ScheduleBatch books instants[i] under names[i]. Mismatched lengths book nothing.
func (s *AlarmScheduler) ScheduleBatch(ctx context.Context, instants []time.Time, names []string) BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchLocked(ctx, instants, names)
}

func (s *AlarmScheduler) batchLocked(ctx context.Context, instants []time.Time, names []string) BatchResult {
	if len(instants) != len(names) {
		log.Error().Str("component", "scheduler").Int("instants", len(instants)).Int("names", len(names)).
			Msg("batch length mismatch")
		return BatchResult{}
	}

	res := BatchResult{Attempted: len(names)}
	for i := range names {
		if s.scheduleLocked(ctx, names[i], instants[i]) {
			res.Scheduled++
		}
	}
	log.Info().Str("component", "scheduler").Int("attempted", res.Attempted).Int("scheduled", res.Scheduled).
		Msg("batch scheduled")
	return res
}

func (s *AlarmScheduler) CancelOne(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelOneLocked(ctx, name)
}

func (s *AlarmScheduler) cancelOneLocked(ctx context.Context, name string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "scheduler").Str("event", name).Interface("panic", r).Msg("cancel failed")
			ok = false
		}
	}()

	ev := s.store.Get(ctx, name)
	if ev == nil {
		log.Debug().Str("component", "scheduler").Str("event", name).Msg("nothing booked to cancel")
		return true
	}
	s.timers.Cancel(ev.TimerKey, deliverCallback(name))
	s.store.Clear(ctx, name)
	log.Info().Str("component", "scheduler").Str("event", name).Int32("key", ev.TimerKey).Msg("event cancelled")
	return true
}

// CancelAll cancels every booked event and stops playback in progress.
func (s *AlarmScheduler) CancelAll(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelAllLocked(ctx)
}

func (s *AlarmScheduler) cancelAllLocked(ctx context.Context) int {
	names := s.store.ListNames(ctx)

	var failed []string
	for _, name := range names {
		if !s.cancelOneLocked(ctx, name) {
			failed = append(failed, name)
		}
	}

	s.stopPlayback(ctx)

	cancelled := len(names) - len(failed)
	s.metrics.EventsCancelled(cancelled)
	if len(failed) > 0 {
		log.Error().Str("component", "scheduler").Strs("failed", failed).Msg("some cancellations failed")
	}
	log.Info().Str("component", "scheduler").Int("cancelled", cancelled).Msg("all events cancelled")
	return cancelled
}

func (s *AlarmScheduler) stopPlayback(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "scheduler").Interface("panic", r).Msg("playback stop failed")
		}
	}()
	if s.playback != nil {
		s.playback.Stop(ctx)
	}
}

// Rebook cancels everything and books instants, holding the scheduling lock
// across both so no stale timer can coexist with a fresh one.
func (s *AlarmScheduler) Rebook(ctx context.Context, instants []domain.PrayerInstant) BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAllLocked(ctx)

	ats := make([]time.Time, 0, len(instants))
	names := make([]string, 0, len(instants))
	for _, pi := range instants {
		ats = append(ats, pi.At)
		names = append(names, string(pi.Name))
	}
	return s.batchLocked(ctx, ats, names)
}

func (s *AlarmScheduler) ValidateHealth() bool {
	return s != nil && s.store != nil && s.timers != nil && s.codec != nil && s.clock != nil && s.playback != nil
}

func (s *AlarmScheduler) CanScheduleExact() bool {
	return s.timers.CanScheduleExact()
}
