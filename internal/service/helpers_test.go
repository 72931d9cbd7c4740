package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tazhate/azancall/internal/alarm"
	"github.com/tazhate/azancall/internal/domain"
)

var errBackend = errors.New("backend unavailable")

type memBackend struct {
	mu      sync.Mutex
	records    map[string]domain.ScheduledEvent
	fail       bool
	failWrites bool
	version    int
}

func newMemBackend() *memBackend {
	return &memBackend{records: make(map[string]domain.ScheduledEvent), version: 2}
}

func (b *memBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *memBackend) setFailWrites(v bool) {
	b.mu.Lock()
	b.failWrites = v
	b.mu.Unlock()
}

func (b *memBackend) PutRecord(_ context.Context, ev domain.ScheduledEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail || b.failWrites {
		return errBackend
	}
	b.records[ev.Name] = ev
	return nil
}

func (b *memBackend) GetRecord(_ context.Context, name string) (*domain.ScheduledEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errBackend
	}
	ev, ok := b.records[name]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (b *memBackend) DeleteRecord(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackend
	}
	delete(b.records, name)
	return nil
}

func (b *memBackend) ListRecordNames(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errBackend
	}
	names := make([]string, 0, len(b.records))
	for n := range b.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *memBackend) DeleteAllRecords(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errBackend
	}
	b.records = make(map[string]domain.ScheduledEvent)
	return nil
}

func (b *memBackend) SchemaVersion(context.Context) (int, error) {
	return b.version, nil
}

func (b *memBackend) raw(name string) (domain.ScheduledEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.records[name]
	return ev, ok
}

type fakeTimers struct {
	mu        sync.Mutex
	live      map[int32]alarm.Callback
	at        map[int32]time.Time
	cancelled []int32
	refuse    map[string]bool
	exact     bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{
		live:   make(map[int32]alarm.Callback),
		at:     make(map[int32]time.Time),
		refuse: make(map[string]bool),
		exact:  true,
	}
}

func (f *fakeTimers) CanScheduleExact() bool { return f.exact }

func (f *fakeTimers) ScheduleOneShot(key int32, at time.Time, cb alarm.Callback) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse[cb.Event] {
		return false
	}
	f.live[key] = cb
	f.at[key] = at
	return true
}

func (f *fakeTimers) Cancel(key int32, cb alarm.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if got, ok := f.live[key]; ok && got.Descriptor == cb.Descriptor {
		delete(f.live, key)
		delete(f.at, key)
		f.cancelled = append(f.cancelled, key)
	}
}

func (f *fakeTimers) liveEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, cb := range f.live {
		out = append(out, cb.Event)
	}
	sort.Strings(out)
	return out
}

type fakePlayback struct {
	mu     sync.Mutex
	ok     bool
	starts []string
	stops  int
}

func (p *fakePlayback) Start(_ context.Context, event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, event)
	return p.ok
}

func (p *fakePlayback) Stop(context.Context) {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePlayback) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}

type fakeSettings struct {
	mu         sync.Mutex
	enabled    bool
	hourOffset bool
	iqama      map[int]int
	delay      time.Duration
}

func (s *fakeSettings) Enabled(ctx context.Context) bool {
	s.mu.Lock()
	delay, v := s.delay, s.enabled
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return v
}

func (s *fakeSettings) HourOffset(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hourOffset
}

func (s *fakeSettings) IqamaOffsetMinutes(_ context.Context, index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iqama[index]
}

type fakeSource struct {
	rows map[string]domain.PrayerRow
	err  error
}

func (s *fakeSource) GetRow(_ context.Context, month string, day int) (*domain.PrayerRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.rows[fmt.Sprintf("%s-%d", month, day)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeSource) GetPrayerRow(ctx context.Context, month string, day int) (*domain.PrayerRow, error) {
	return s.GetRow(ctx, month, day)
}

func marchFirst() domain.PrayerRow {
	return domain.PrayerRow{
		Month: "Mar", Day: 1,
		Fajr: "04:30", Sunrise: "05:50", Dhuhr: "12:15", Asr: "15:45", Maghrib: "18:20", Isha: "19:50",
	}
}

func marchSecond() domain.PrayerRow {
	return domain.PrayerRow{
		Month: "Mar", Day: 2,
		Fajr: "04:29", Sunrise: "05:49", Dhuhr: "12:15", Asr: "15:45", Maghrib: "18:21", Isha: "19:51",
	}
}

func newSource(rows ...domain.PrayerRow) *fakeSource {
	s := &fakeSource{rows: make(map[string]domain.PrayerRow)}
	for _, r := range rows {
		s.rows[fmt.Sprintf("%s-%d", r.Month, r.Day)] = r
	}
	return s
}

// harness wires the core against fakes at 2025-03-01 12:00 UTC.
type harness struct {
	clock    *clockwork.FakeClock
	backend  *memBackend
	store    *ScheduleStore
	timers   *fakeTimers
	playback *fakePlayback
	settings *fakeSettings
	source   *fakeSource
	codec    *KeyCodec
	alarms   *AlarmScheduler
	resched  *Rescheduler
}

func newHarness() *harness {
	h := &harness{
		clock:    clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		backend:  newMemBackend(),
		timers:   newFakeTimers(),
		playback: &fakePlayback{ok: true},
		settings: &fakeSettings{enabled: true},
		source:   newSource(marchFirst(), marchSecond()),
		codec:    NewKeyCodec(time.UTC),
	}
	h.store = NewScheduleStore(h.backend, h.clock)
	h.alarms = NewAlarmScheduler(h.store, h.timers, h.codec, h.playback, h.clock, nil)
	h.resched = NewRescheduler(h.settings, h.source, h.alarms, h.codec, h.clock, time.UTC, nil)
	return h
}

func (h *harness) at(hh, mm int) time.Time {
	return time.Date(2025, 3, 1, hh, mm, 0, 0, time.UTC)
}
