// Package export writes booked and upcoming prayers as an iCalendar feed.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tazhate/azancall/internal/domain"
)

const (
	productID      = "-//AzanCall//Prayer Times//EN"
	defaultLength  = 10 * time.Minute
	categoryBooked = "AZAN"
	categoryInfo   = "PRAYER-TIME"
)

type Entry struct {
	Name     string
	At       time.Time
	Iqama    time.Time // zero when unknown
	TimerKey int32     // non-zero for booked events
}

func FromEvents(events []domain.ScheduledEvent) []Entry {
	out := make([]Entry, 0, len(events))
	for _, ev := range events {
		out = append(out, Entry{Name: ev.Name, At: ev.ScheduledAt, TimerKey: ev.TimerKey})
	}
	return out
}

// FromInstants turns a resolved day into entries, with iqama minutes per prayer.
func FromInstants(instants []domain.PrayerInstant, iqama func(domain.PrayerName) int) []Entry {
	out := make([]Entry, 0, len(instants))
	for _, pi := range instants {
		e := Entry{Name: string(pi.Name), At: pi.At}
		if iqama != nil {
			if m := iqama(pi.Name); m > 0 {
				e.Iqama = pi.At.Add(time.Duration(m) * time.Minute)
			}
		}
		out = append(out, e)
	}
	return out
}

func uid(e Entry) string {
	return fmt.Sprintf("%s-%s@azancall", e.At.UTC().Format("20060102T1504Z"), e.Name)
}

func BuildCalendar(entries []Entry, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, e := range entries {
		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, uid(e))
		vevent.Props.SetText(ical.PropSummary, e.Name)

		end := e.At.Add(defaultLength)
		if !e.Iqama.IsZero() {
			end = e.Iqama
			vevent.Props.SetText(ical.PropDescription, "Iqama "+e.Iqama.Format("15:04"))
		}
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.At.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())

		category := categoryInfo
		if e.TimerKey != 0 {
			category = categoryBooked
		}
		vevent.Props.SetText(ical.PropCategories, category)
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

		cal.Children = append(cal.Children, vevent.Component)
	}
	return cal
}

func WriteCalendar(w io.Writer, entries []Entry, stamp time.Time) error {
	if len(entries) == 0 {
		return fmt.Errorf("nothing to export")
	}
	if err := ical.NewEncoder(w).Encode(BuildCalendar(entries, stamp)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func Serialize(entries []Entry, stamp time.Time) (string, error) {
	var buf bytes.Buffer
	if err := WriteCalendar(&buf, entries, stamp); err != nil {
		return "", err
	}
	return buf.String(), nil
}
