package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
)

const (
	DuplicateWindow  = 30 * time.Second
	PlayingWindow    = 10 * time.Minute
	FiredRetention   = 24 * time.Hour
	MaxWakeHold      = 30 * time.Second
	DefaultSweepTick = 5 * time.Minute
)

// WakeHold keeps the process from idling while playback is handed off.
// The returned func releases the hold and is safe to call more than once.
type WakeHold interface {
	Acquire(tag string, limit time.Duration) (release func())
}

// Receiver handles fired prayer timers. Timer delivery is at-least-once, so
// it suppresses repeats of the same event through two in-memory tables.
type Receiver struct {
	settings SettingsReader
	store    *ScheduleStore
	playback AudioPlayback
	wake     WakeHold
	clock    clockwork.Clock
	metrics  Metrics

	settingsTimeout time.Duration
	wakeHold        time.Duration

	mu               sync.Mutex
	recentlyFired    map[string]time.Time
	currentlyPlaying map[string]time.Time
}

type ReceiverStats struct {
	RecentlyFired    int `json:"recently_fired"`
	CurrentlyPlaying int `json:"currently_playing"`
}

func NewReceiver(settings SettingsReader, store *ScheduleStore, playback AudioPlayback, wake WakeHold, clock clockwork.Clock, m Metrics) *Receiver {
	return &Receiver{
		settings:         settings,
		store:            store,
		playback:         playback,
		wake:             wake,
		clock:            clock,
		metrics:          orNop(m),
		settingsTimeout:  DefaultSettingsTimeout,
		wakeHold:         10 * time.Second,
		recentlyFired:    make(map[string]time.Time),
		currentlyPlaying: make(map[string]time.Time),
	}
}

// SetWakeHold sets how long a delivery keeps the process awake, capped at MaxWakeHold.
func (r *Receiver) SetWakeHold(d time.Duration) {
	if d <= 0 || d > MaxWakeHold {
		d = MaxWakeHold
	}
	r.wakeHold = d
}

func (r *Receiver) SetSettingsTimeout(d time.Duration) {
	if d > 0 {
		r.settingsTimeout = d
	}
}

// OnAlarm is the timer callback. key is the registration that fired; the
// stored record is cleared only while it still belongs to that registration.
// It never returns an error; every outcome is logged.
func (r *Receiver) OnAlarm(ctx context.Context, key int32, event string, deliveredAt time.Time) {
	logger := log.With().Str("component", "receiver").Str("event", event).Int32("key", key).
		Time("delivered_at", deliveredAt).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("delivery failed")
		}
	}()

	event = strings.TrimSpace(event)
	name, known := domain.ParsePrayerName(event)
	if event == "" || !known || !name.Actionable() {
		logger.Error().Msg("unknown event delivered")
		r.metrics.DeliverySuppressed("unknown")
		return
	}

	if !r.enabled(ctx) {
		logger.Info().Msg("azan disabled, skipping playback")
		r.metrics.DeliverySuppressed("disabled")
		return
	}

	canonical := string(name)
	if reason := r.admit(canonical); reason != "" {
		logger.Info().Str("reason", reason).Msg("delivery suppressed")
		r.metrics.DeliverySuppressed(reason)
		return
	}

	release := func() {}
	if r.wake != nil {
		release = r.wake.Acquire(canonical, r.wakeHold)
	}
	defer release()

	if r.playback.Start(ctx, canonical) {
		if !r.store.ClearBooking(ctx, canonical, key) {
			logger.Debug().Msg("record belongs to a newer booking, kept")
		}
		r.metrics.DeliveryPlayed(true)
		logger.Info().Dur("late", r.clock.Since(deliveredAt)).Msg("azan started")
		return
	}

	r.mu.Lock()
	delete(r.currentlyPlaying, canonical)
	r.mu.Unlock()
	r.metrics.DeliveryPlayed(false)
	logger.Error().Msg("playback failed to start")
}

// admit checks both tables and records event in one critical section.
// It returns the suppression reason, or "" when the delivery may proceed.
func (r *Receiver) admit(event string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if at, ok := r.recentlyFired[event]; ok && now.Sub(at) < DuplicateWindow {
		return "duplicate"
	}
	if at, ok := r.currentlyPlaying[event]; ok && now.Sub(at) < PlayingWindow {
		return "playing"
	}
	r.recentlyFired[event] = now
	r.currentlyPlaying[event] = now
	return ""
}

// enabled reads the flag with a bounded wait and assumes enabled on timeout.
func (r *Receiver) enabled(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.settingsTimeout)
	defer cancel()

	ch := make(chan bool, 1)
	go func() { ch <- r.settings.Enabled(ctx) }()

	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		log.Warn().Str("component", "receiver").Msg("enabled flag read timed out, assuming enabled")
		return true
	}
}

// MarkStopped drops every playing entry, used when playback is stopped by hand.
func (r *Receiver) MarkStopped() {
	r.mu.Lock()
	r.currentlyPlaying = make(map[string]time.Time)
	r.mu.Unlock()
}

func (r *Receiver) Sweep() (dropped int) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, at := range r.recentlyFired {
		if now.Sub(at) > FiredRetention {
			delete(r.recentlyFired, name)
			dropped++
		}
	}
	for name, at := range r.currentlyPlaying {
		if now.Sub(at) > PlayingWindow {
			delete(r.currentlyPlaying, name)
			dropped++
		}
	}
	return dropped
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Receiver) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepTick
	}
	ticker := r.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := r.Sweep(); n > 0 {
				log.Debug().Str("component", "receiver").Int("dropped", n).Msg("suppression tables swept")
			}
		}
	}
}

func (r *Receiver) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReceiverStats{RecentlyFired: len(r.recentlyFired), CurrentlyPlaying: len(r.currentlyPlaying)}
}
