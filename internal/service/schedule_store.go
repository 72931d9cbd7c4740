package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
	"github.com/tazhate/azancall/internal/storage"
)

// ScheduleStore is the durable name -> booked timer mapping with a read cache.
// Backend failures are logged and turned into safe defaults; nothing here
// returns an error.
type ScheduleStore struct {
	backend storage.RecordBackend
	clock   clockwork.Clock

	mu    sync.Mutex
	cache map[string]domain.ScheduledEvent
}

type StoreStats struct {
	TotalRecords  int `json:"total_records"`
	ValidRecords  int `json:"valid_records"`
	CacheSize     int `json:"cache_size"`
	SchemaVersion int `json:"schema_version"`
}

func NewScheduleStore(backend storage.RecordBackend, clock clockwork.Clock) *ScheduleStore {
	return &ScheduleStore{
		backend: backend,
		clock:   clock,
		cache:   make(map[string]domain.ScheduledEvent),
	}
}

// Save reports whether the record reached the backend.
func (s *ScheduleStore) Save(ctx context.Context, name string, at time.Time, key int32) bool {
	name = strings.TrimSpace(name)
	if name == "" || at.UnixMilli() <= 0 || key <= 0 {
		log.Warn().Str("component", "store").Str("event", name).Time("at", at).Int32("key", key).
			Msg("refusing to save invalid record")
		return false
	}

	ev := domain.ScheduledEvent{
		Name:        name,
		ScheduledAt: at,
		TimerKey:    key,
		BookedAt:    s.clock.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.PutRecord(ctx, ev); err != nil {
		log.Error().Err(err).Str("component", "store").Str("event", name).Msg("save failed")
		return false
	}
	s.cache[name] = ev
	return true
}

// Get returns nil when nothing valid is stored for name.
func (s *ScheduleStore) Get(ctx context.Context, name string) *domain.ScheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, name)
}

func (s *ScheduleStore) getLocked(ctx context.Context, name string) *domain.ScheduledEvent {
	if ev, ok := s.cache[name]; ok {
		if ev.Valid() {
			return &ev
		}
		delete(s.cache, name)
	}

	ev, err := s.backend.GetRecord(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("component", "store").Str("event", name).Msg("read failed")
		return nil
	}
	if ev == nil {
		return nil
	}
	if !ev.Valid() {
		log.Warn().Str("component", "store").Str("event", name).Msg("dropping invalid record")
		s.purgeLocked(ctx, name)
		return nil
	}

	s.cache[name] = *ev
	return ev
}

func (s *ScheduleStore) Clear(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(ctx, name)
}

// ClearBooking clears name only while it still holds the booking made under key.
// It reports whether a record was cleared.
func (s *ScheduleStore) ClearBooking(ctx context.Context, name string, key int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.getLocked(ctx, name)
	if ev == nil || ev.TimerKey != key {
		return false
	}
	s.purgeLocked(ctx, name)
	return true
}

func (s *ScheduleStore) purgeLocked(ctx context.Context, name string) {
	delete(s.cache, name)
	if err := s.backend.DeleteRecord(ctx, name); err != nil {
		log.Error().Err(err).Str("component", "store").Str("event", name).Msg("delete failed")
	}
}

// ListNames returns the names holding valid records, purging invalid ones.
func (s *ScheduleStore) ListNames(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.backend.ListRecordNames(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "store").Msg("list failed")
		return nil
	}

	var valid []string
	for _, name := range names {
		// the cache may be stale, the backend decides
		delete(s.cache, name)
		if s.getLocked(ctx, name) != nil {
			valid = append(valid, name)
		}
	}
	sort.Strings(valid)
	return valid
}

func (s *ScheduleStore) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.DeleteAllRecords(ctx); err != nil {
		log.Error().Err(err).Str("component", "store").Msg("clear all failed")
	}
	s.cache = make(map[string]domain.ScheduledEvent)
}

// Records returns all valid records ordered by fire time.
func (s *ScheduleStore) Records(ctx context.Context) []domain.ScheduledEvent {
	var out []domain.ScheduledEvent
	for _, name := range s.ListNames(ctx) {
		if ev := s.Get(ctx, name); ev != nil {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (s *ScheduleStore) Stats(ctx context.Context) StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st StoreStats
	names, err := s.backend.ListRecordNames(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "store").Msg("stats list failed")
	}
	st.TotalRecords = len(names)
	for _, name := range names {
		ev, err := s.backend.GetRecord(ctx, name)
		if err == nil && ev != nil && ev.Valid() {
			st.ValidRecords++
		}
	}
	st.CacheSize = len(s.cache)
	if v, err := s.backend.SchemaVersion(ctx); err == nil {
		st.SchemaVersion = v
	}
	return st
}
