package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
)

const (
	settingEnabled    = "enabled"
	settingHourOffset = "hour_offset"
	settingIqama      = "iqama_" // + lowercase prayer name

	DefaultSettingsTimeout = 2 * time.Second
	maxIqamaMinutes        = 120
)

type SettingsKV interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// SettingsService reads settings with a bounded wait. When the read times
// out or fails the last known value is returned, starting from the defaults.
type SettingsService struct {
	kv      SettingsKV
	timeout time.Duration

	mu   sync.RWMutex
	last domain.Settings
}

func NewSettingsService(kv SettingsKV, timeout time.Duration) *SettingsService {
	if timeout <= 0 {
		timeout = DefaultSettingsTimeout
	}
	return &SettingsService{kv: kv, timeout: timeout, last: domain.DefaultSettings()}
}

func (s *SettingsService) Enabled(ctx context.Context) bool {
	s.mu.RLock()
	fallback := s.last.Enabled
	s.mu.RUnlock()

	v := s.readBool(ctx, settingEnabled, fallback)
	s.mu.Lock()
	s.last.Enabled = v
	s.mu.Unlock()
	return v
}

func (s *SettingsService) HourOffset(ctx context.Context) bool {
	s.mu.RLock()
	fallback := s.last.HourOffset
	s.mu.RUnlock()

	v := s.readBool(ctx, settingHourOffset, fallback)
	s.mu.Lock()
	s.last.HourOffset = v
	s.mu.Unlock()
	return v
}

// IqamaOffsetMinutes takes the index in domain.AllPrayers.
func (s *SettingsService) IqamaOffsetMinutes(ctx context.Context, index int) int {
	if index < 0 || index >= len(domain.AllPrayers) {
		return 0
	}
	name := domain.AllPrayers[index]

	s.mu.RLock()
	fallback := s.last.Iqama[name]
	s.mu.RUnlock()

	raw, ok := s.lookup(ctx, iqamaKey(name))
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "settings").Str("prayer", string(name)).Msg("bad iqama value")
		return fallback
	}

	s.mu.Lock()
	s.last.Iqama[name] = v
	s.mu.Unlock()
	return v
}

func (s *SettingsService) Current(ctx context.Context) domain.Settings {
	st := domain.Settings{
		Enabled:    s.Enabled(ctx),
		HourOffset: s.HourOffset(ctx),
		Iqama:      make(map[domain.PrayerName]int, len(domain.AllPrayers)),
	}
	for i, name := range domain.AllPrayers {
		st.Iqama[name] = s.IqamaOffsetMinutes(ctx, i)
	}
	return st
}

func (s *SettingsService) SetEnabled(ctx context.Context, v bool) error {
	if err := s.kv.SetSetting(ctx, settingEnabled, strconv.FormatBool(v)); err != nil {
		return err
	}
	s.mu.Lock()
	s.last.Enabled = v
	s.mu.Unlock()
	return nil
}

func (s *SettingsService) SetHourOffset(ctx context.Context, v bool) error {
	if err := s.kv.SetSetting(ctx, settingHourOffset, strconv.FormatBool(v)); err != nil {
		return err
	}
	s.mu.Lock()
	s.last.HourOffset = v
	s.mu.Unlock()
	return nil
}

func (s *SettingsService) SetIqamaOffsetMinutes(ctx context.Context, name domain.PrayerName, minutes int) error {
	if name.Index() < 0 {
		return fmt.Errorf("unknown prayer %q", name)
	}
	if minutes < 0 || minutes > maxIqamaMinutes {
		return fmt.Errorf("iqama offset must be between 0 and %d minutes", maxIqamaMinutes)
	}
	if err := s.kv.SetSetting(ctx, iqamaKey(name), strconv.Itoa(minutes)); err != nil {
		return err
	}
	s.mu.Lock()
	s.last.Iqama[name] = minutes
	s.mu.Unlock()
	return nil
}

func (s *SettingsService) readBool(ctx context.Context, key string, fallback bool) bool {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "settings").Str("key", key).Msg("bad bool value")
		return fallback
	}
	return v
}

// lookup reports false when the key is unset, unreadable, or the read timed out.
func (s *SettingsService) lookup(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		value string
		found bool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, found, err := s.kv.GetSetting(ctx, key)
		ch <- result{v, found, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			log.Warn().Err(r.err).Str("component", "settings").Str("key", key).Msg("settings read failed")
			return "", false
		}
		return r.value, r.found
	case <-ctx.Done():
		log.Warn().Str("component", "settings").Str("key", key).Dur("timeout", s.timeout).Msg("settings read timed out")
		return "", false
	}
}

func iqamaKey(name domain.PrayerName) string {
	return settingIqama + strings.ToLower(string(name))
}
