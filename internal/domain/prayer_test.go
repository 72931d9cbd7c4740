package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrayerName(t *testing.T) {
	tests := []struct {
		in   string
		want PrayerName
		ok   bool
	}{
		{"Fajr", Fajr, true},
		{" isha ", Isha, true},
		{"MAGHRIB", Maghrib, true},
		{"Shuruq", Sunrise, true},
		{"الشروق", Sunrise, true},
		{"Tahajjud", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePrayerName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestActionable(t *testing.T) {
	for _, n := range ActionablePrayers {
		assert.True(t, n.Actionable(), n)
	}
	assert.False(t, Sunrise.Actionable())
	assert.False(t, PrayerName("Witr").Actionable())
	assert.Equal(t, -1, PrayerName("Witr").Index())
	assert.Equal(t, 5, Isha.Index())
}

func TestPrayerRowResolve(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*3600)
	row := PrayerRow{Month: "Mar", Day: 1, Fajr: "04:30", Sunrise: "05:50", Dhuhr: "12:15", Asr: "15:45", Maghrib: "18:20", Isha: "19:50"}

	// 22:00 UTC on Feb 28 is already Mar 1 in Riyadh
	date := time.Date(2025, 2, 28, 22, 0, 0, 0, time.UTC)
	at, err := row.Resolve(Isha, date, riyadh)
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2025, 3, 1, 19, 50, 0, 0, riyadh)))

	row.Asr = "3pm"
	_, err = row.Resolve(Asr, date, riyadh)
	assert.Error(t, err)

	row.Dhuhr = ""
	_, err = row.Resolve(Dhuhr, date, riyadh)
	assert.Error(t, err)
}

func TestPrayerRowResolve_DSTTransitionDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	spring := time.Date(2025, 3, 9, 0, 30, 0, 0, ny)
	fall := time.Date(2025, 11, 2, 0, 30, 0, 0, ny)

	tests := []struct {
		name string
		date time.Time
		hhmm string
		want time.Time
	}{
		{"spring before the gap", spring, "01:45", time.Date(2025, 3, 9, 6, 45, 0, 0, time.UTC)},
		{"spring inside the skipped hour", spring, "02:30", time.Date(2025, 3, 9, 7, 30, 0, 0, time.UTC)},
		{"spring afternoon on daylight time", spring, "13:05", time.Date(2025, 3, 9, 17, 5, 0, 0, time.UTC)},
		{"fall repeated hour takes the first", fall, "01:30", time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC)},
		{"fall afternoon on standard time", fall, "11:50", time.Date(2025, 11, 2, 16, 50, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := PrayerRow{Dhuhr: tt.hhmm}
			at, err := row.Resolve(Dhuhr, tt.date, ny)
			require.NoError(t, err)
			assert.True(t, at.Equal(tt.want), "got %s", at.UTC())
			assert.Equal(t, tt.date.Day(), at.In(ny).Day())
		})
	}
}

func TestMonthAbbrev(t *testing.T) {
	assert.Equal(t, "Jan", MonthAbbrev(time.January))
	assert.Equal(t, "Sep", MonthAbbrev(time.September))
}

func TestScheduledEventValid(t *testing.T) {
	booked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := ScheduledEvent{Name: "Asr", ScheduledAt: booked.Add(3 * time.Hour), TimerKey: 700123, BookedAt: booked}
	assert.True(t, ev.Valid())

	bad := ev
	bad.TimerKey = 0
	assert.False(t, bad.Valid())

	bad = ev
	bad.ScheduledAt = booked.Add(-time.Minute)
	assert.False(t, bad.Valid())

	bad = ev
	bad.Name = ""
	assert.False(t, bad.Valid())

	assert.False(t, ScheduledEvent{Name: "Asr", TimerKey: 1}.Valid())
}

func TestDefaultSettingsCopiesIqama(t *testing.T) {
	s := DefaultSettings()
	s.Iqama[Fajr] = 99
	assert.Equal(t, 25, DefaultIqamaMinutes[Fajr])
	assert.True(t, DefaultSettings().Enabled)
}
