package service

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/azancall/internal/domain"
)

func bookedTimes(t *testing.T, h *harness) map[string]time.Time {
	t.Helper()
	out := make(map[string]time.Time)
	for _, ev := range h.store.Records(context.Background()) {
		out[ev.Name] = ev.ScheduledAt
	}
	return out
}

func TestRescheduler_NoonBooksRemainingFour(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.resched.Run(ctx))

	assert.Equal(t, []string{"Asr", "Dhuhr", "Isha", "Maghrib"}, h.store.ListNames(ctx))
	assert.Equal(t, []string{"Asr", "Dhuhr", "Isha", "Maghrib"}, h.timers.liveEvents())

	booked := bookedTimes(t, h)
	assert.True(t, booked["Dhuhr"].Equal(h.at(12, 15)))
	assert.True(t, booked["Isha"].Equal(h.at(19, 50)))

	last := h.resched.LastRun()
	assert.Equal(t, OutcomeSuccess, last.Outcome)
	assert.Equal(t, 4, last.Scheduled)
	assert.NotEmpty(t, last.RunID)
}

func TestRescheduler_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.resched.Run(ctx))
	first := bookedTimes(t, h)

	require.NoError(t, h.resched.Run(ctx))
	second := bookedTimes(t, h)

	assert.Equal(t, len(first), len(second))
	for name, at := range first {
		assert.True(t, at.Equal(second[name]), name)
	}
	// one live timer per name, older generation cancelled
	assert.Equal(t, []string{"Asr", "Dhuhr", "Isha", "Maghrib"}, h.timers.liveEvents())
}

func TestRescheduler_DisabledClearsEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.resched.Run(ctx))
	require.NotEmpty(t, h.store.ListNames(ctx))

	h.settings.enabled = false
	require.NoError(t, h.resched.Run(ctx))

	assert.Empty(t, h.store.ListNames(ctx))
	assert.Empty(t, h.timers.liveEvents())
	assert.Equal(t, OutcomeDisabled, h.resched.LastRun().Outcome)
}

func TestRescheduler_MissingRowCancelsAndSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.True(t, h.alarms.Schedule(ctx, "Isha", h.at(19, 50)))
	h.source.rows = nil

	require.NoError(t, h.resched.Run(ctx))

	assert.Empty(t, h.store.ListNames(ctx))
	assert.Equal(t, OutcomeNoData, h.resched.LastRun().Outcome)
}

func TestRescheduler_HourOffsetAppliedBeforeFutureTest(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.settings.hourOffset = true
	// 11:30 table Dhuhr becomes 12:30, still ahead of 12:00
	row := marchFirst()
	row.Dhuhr = "11:30"
	h.source = newSource(row)
	h.resched = NewRescheduler(h.settings, h.source, h.alarms, h.codec, h.clock, time.UTC, nil)

	require.NoError(t, h.resched.Run(ctx))

	booked := bookedTimes(t, h)
	require.Contains(t, booked, "Dhuhr")
	assert.True(t, booked["Dhuhr"].Equal(h.at(12, 30)))
	assert.True(t, booked["Asr"].Equal(h.at(16, 45)))
	assert.NotContains(t, booked, "Fajr")
}

func TestRescheduler_UsesLiveClockForToday(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.resched.Run(ctx))

	// past Isha on Mar 1, then into Mar 2
	h.clock.Advance(13 * time.Hour)
	require.NoError(t, h.resched.Run(ctx))

	assert.Equal(t, []string{"Asr", "Dhuhr", "Fajr", "Isha", "Maghrib"}, h.store.ListNames(ctx))
	booked := bookedTimes(t, h)
	assert.True(t, booked["Fajr"].Equal(time.Date(2025, 3, 2, 4, 29, 0, 0, time.UTC)))
}

func TestRescheduler_SourceErrorFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.source.err = errors.New("table locked")

	err := h.resched.Run(ctx)
	require.Error(t, err)

	last := h.resched.LastRun()
	assert.Equal(t, OutcomeFailed, last.Outcome)
	assert.Contains(t, last.Error, "table locked")
}

func TestRescheduler_PanicIsReportedAsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.resched = NewRescheduler(h.settings, nil, h.alarms, h.codec, h.clock, time.UTC, nil)

	err := h.resched.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, h.resched.LastRun().Outcome)
}

func TestRescheduler_DSTTransitionDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		row  domain.PrayerRow
		want map[string]time.Time
	}{
		{
			name: "spring forward",
			now:  time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC), // 01:00 EST
			row: domain.PrayerRow{Month: "Mar", Day: 9,
				Fajr: "02:30", Sunrise: "07:10", Dhuhr: "13:05", Asr: "16:20", Maghrib: "19:05", Isha: "20:25"},
			want: map[string]time.Time{
				"Fajr":    time.Date(2025, 3, 9, 7, 30, 0, 0, time.UTC),
				"Dhuhr":   time.Date(2025, 3, 9, 17, 5, 0, 0, time.UTC),
				"Asr":     time.Date(2025, 3, 9, 20, 20, 0, 0, time.UTC),
				"Maghrib": time.Date(2025, 3, 9, 23, 5, 0, 0, time.UTC),
				"Isha":    time.Date(2025, 3, 10, 0, 25, 0, 0, time.UTC),
			},
		},
		{
			name: "fall back",
			now:  time.Date(2025, 11, 2, 4, 30, 0, 0, time.UTC), // 00:30 EDT
			row: domain.PrayerRow{Month: "Nov", Day: 2,
				Fajr: "01:30", Sunrise: "06:35", Dhuhr: "11:50", Asr: "14:35", Maghrib: "16:55", Isha: "18:15"},
			want: map[string]time.Time{
				"Fajr":    time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC),
				"Dhuhr":   time.Date(2025, 11, 2, 16, 50, 0, 0, time.UTC),
				"Asr":     time.Date(2025, 11, 2, 19, 35, 0, 0, time.UTC),
				"Maghrib": time.Date(2025, 11, 2, 21, 55, 0, 0, time.UTC),
				"Isha":    time.Date(2025, 11, 2, 23, 15, 0, 0, time.UTC),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness()
			h.clock = clockwork.NewFakeClockAt(tt.now)
			h.source = newSource(tt.row)
			h.codec = NewKeyCodec(ny)
			h.store = NewScheduleStore(h.backend, h.clock)
			h.alarms = NewAlarmScheduler(h.store, h.timers, h.codec, h.playback, h.clock, nil)
			h.resched = NewRescheduler(h.settings, h.source, h.alarms, h.codec, h.clock, ny, nil)

			require.NoError(t, h.resched.Run(ctx))

			booked := bookedTimes(t, h)
			require.Len(t, booked, len(tt.want))
			for name, want := range tt.want {
				assert.True(t, booked[name].Equal(want), "%s: got %s", name, booked[name].UTC())
			}
		})
	}
}
