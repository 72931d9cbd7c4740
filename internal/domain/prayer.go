package domain

import (
	"fmt"
	"strings"
	"time"
)

type PrayerName string

const (
	Fajr    PrayerName = "Fajr"
	Sunrise PrayerName = "Sunrise" // informational, never triggers audio
	Dhuhr   PrayerName = "Dhuhr"
	Asr     PrayerName = "Asr"
	Maghrib PrayerName = "Maghrib"
	Isha    PrayerName = "Isha"
)

// AllPrayers is the table order; Index values follow it.
var AllPrayers = []PrayerName{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

// ActionablePrayers are the names that get booked and played.
var ActionablePrayers = []PrayerName{Fajr, Dhuhr, Asr, Maghrib, Isha}

var sunriseAliases = []string{"sunrise", "shuruq", "الشروق"}

func ParsePrayerName(s string) (PrayerName, bool) {
	s = strings.TrimSpace(s)
	for _, n := range AllPrayers {
		if strings.EqualFold(s, string(n)) {
			return n, true
		}
	}
	if IsSunrise(s) {
		return Sunrise, true
	}
	return "", false
}

func IsSunrise(s string) bool {
	s = strings.TrimSpace(s)
	for _, alias := range sunriseAliases {
		if strings.EqualFold(s, alias) {
			return true
		}
	}
	return false
}

func (n PrayerName) Index() int {
	for i, p := range AllPrayers {
		if p == n {
			return i
		}
	}
	return -1
}

func (n PrayerName) Actionable() bool {
	return n != Sunrise && n.Index() >= 0
}

// PrayerRow is one day of the lookup table. Times are "HH:mm" local.
type PrayerRow struct {
	Month   string `json:"month_name"` // "Jan".."Dec"
	Day     int    `json:"day"`
	Fajr    string `json:"fajr"`
	Sunrise string `json:"sunrise"`
	Dhuhr   string `json:"dhuhr"`
	Asr     string `json:"asr"`
	Maghrib string `json:"maghrib"`
	Isha    string `json:"isha"`
}

func (r PrayerRow) TimeOf(n PrayerName) string {
	switch n {
	case Fajr:
		return r.Fajr
	case Sunrise:
		return r.Sunrise
	case Dhuhr:
		return r.Dhuhr
	case Asr:
		return r.Asr
	case Maghrib:
		return r.Maghrib
	case Isha:
		return r.Isha
	}
	return ""
}

// Resolve turns the row's time-of-day for n into an instant on date's calendar day in loc.
// A wall time skipped by a DST change resolves to just after the gap; a repeated
// one resolves to its first occurrence.
func (r PrayerRow) Resolve(n PrayerName, date time.Time, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(r.TimeOf(n))
	if raw == "" {
		return time.Time{}, fmt.Errorf("no time for %s", n)
	}
	tod, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s time %q: %w", n, raw, err)
	}
	d := date.In(loc)
	at := time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), 0, 0, loc)
	if at.Hour() == tod.Hour() && at.Minute() == tod.Minute() {
		if earlier := at.Add(-time.Hour); earlier.Hour() == tod.Hour() && earlier.Minute() == tod.Minute() {
			return earlier, nil
		}
		return at, nil
	}

	// The wall time falls in a forward transition gap. Read it with the offset
	// in force before the gap, which lands it after the gap by the gap's length.
	_, before := time.Date(d.Year(), d.Month(), d.Day()-1, 12, 0, 0, 0, loc).Zone()
	wall := time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), 0, 0, time.UTC)
	return wall.Add(-time.Duration(before) * time.Second).In(loc), nil
}

type PrayerInstant struct {
	Name PrayerName `json:"name"`
	At   time.Time  `json:"at"`
}

// MonthAbbrev returns the table's month key, e.g. "Mar".
func MonthAbbrev(m time.Month) string {
	return m.String()[:3]
}
