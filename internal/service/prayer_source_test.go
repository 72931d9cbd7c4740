package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/azancall/internal/domain"
)

func TestPrayerTimes_NextUpcomingToday(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.settings.iqama = map[int]int{domain.Dhuhr.Index(): 20}
	p := NewPrayerTimes(h.source, h.settings, h.clock, time.UTC)

	next, err := p.NextUpcoming(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.Equal(t, domain.Dhuhr, next.Name)
	assert.True(t, next.At.Equal(h.at(12, 15)))
	assert.True(t, next.Iqama.Equal(h.at(12, 35)))
	assert.Equal(t, 15*time.Minute, next.Remaining)
}

func TestPrayerTimes_NextUpcomingIncludesSunrise(t *testing.T) {
	h := newHarness()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC))
	p := NewPrayerTimes(h.source, h.settings, clock, time.UTC)

	next, err := p.NextUpcoming(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, domain.Sunrise, next.Name)
}

func TestPrayerTimes_NextUpcomingRollsToTomorrowFajr(t *testing.T) {
	h := newHarness()
	h.clock.Advance(8 * time.Hour) // 20:00, Isha has passed
	p := NewPrayerTimes(h.source, h.settings, h.clock, time.UTC)

	next, err := p.NextUpcoming(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.Equal(t, domain.Fajr, next.Name)
	assert.True(t, next.At.Equal(time.Date(2025, 3, 2, 4, 29, 0, 0, time.UTC)))
}

func TestPrayerTimes_NoDataGivesNil(t *testing.T) {
	h := newHarness()
	p := NewPrayerTimes(newSource(), h.settings, h.clock, time.UTC)

	next, err := p.NextUpcoming(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestPrayerTimes_SnapshotCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := NewPrayerTimes(h.source, h.settings, h.clock, time.UTC)

	first, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, first.Today, 6)
	require.Len(t, first.Tomorrow, 6)

	row := marchFirst()
	row.Isha = "20:05"
	h.source.rows["Mar-1"] = row

	cached, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	p.Invalidate()
	fresh, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, fresh.Today[5].At.Equal(h.at(20, 5)))
}

func TestPrayerTimes_SnapshotFollowsHourOffset(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := NewPrayerTimes(h.source, h.settings, h.clock, time.UTC)

	plain, err := p.Snapshot(ctx)
	require.NoError(t, err)

	h.settings.mu.Lock()
	h.settings.hourOffset = true
	h.settings.mu.Unlock()

	shifted, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, plain, shifted)
	assert.True(t, shifted.Today[0].At.Equal(h.at(5, 30)))
}

func TestPrayerTimes_SourceError(t *testing.T) {
	h := newHarness()
	h.source.err = errors.New("disk gone")
	p := NewPrayerTimes(h.source, h.settings, h.clock, time.UTC)

	_, err := p.Snapshot(context.Background())
	assert.ErrorContains(t, err, "disk gone")
}
