package service

import (
	"context"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/alarm"
	"github.com/tazhate/azancall/internal/domain"
)

type TimerLister interface {
	Registrations() []alarm.Registration
}

// DiagnosticsDeps wires the report. Nil members are skipped, which is how the
// CLI builds a report without a running daemon.
type DiagnosticsDeps struct {
	Clock       clockwork.Clock
	Location    *time.Location
	Settings    *SettingsService
	Store       *ScheduleStore
	Alarms      *AlarmScheduler
	Timers      TimerLister
	Receiver    *Receiver
	WakeHold    *TimedWakeHold
	Prayers     *PrayerTimes
	Rescheduler *Rescheduler
}

type Diagnostics struct {
	deps DiagnosticsDeps
}

type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Healthy     bool            `json:"healthy"`
	System      SystemInfo      `json:"system"`
	Settings    *SettingsInfo   `json:"settings,omitempty"`
	Timers      *TimerInfo      `json:"timers,omitempty"`
	Store       *StoreInfo      `json:"store,omitempty"`
	Receiver    *ReceiverInfo   `json:"receiver,omitempty"`
	PrayerTimes *PrayerTimeInfo `json:"prayer_times,omitempty"`
	LastRun     *RunReport      `json:"last_run,omitempty"`
}

type SystemInfo struct {
	Now       time.Time `json:"now"`
	Timezone  string    `json:"timezone"`
	UTCOffset string    `json:"utc_offset"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
}

type SettingsInfo struct {
	Enabled    bool                      `json:"enabled"`
	HourOffset bool                      `json:"hour_offset"`
	Iqama      map[domain.PrayerName]int `json:"iqama_minutes"`
}

type TimerInfo struct {
	ExactPermitted bool                 `json:"exact_permitted"`
	Live           []alarm.Registration `json:"live"`
}

type StoreInfo struct {
	StoreStats
	Records []domain.ScheduledEvent `json:"records"`
}

type ReceiverInfo struct {
	ReceiverStats
	WakeHolds int `json:"wake_holds"`
}

type PrayerTimeInfo struct {
	HasToday bool                   `json:"has_today"`
	Today    []domain.PrayerInstant `json:"today"`
	Next     *Upcoming              `json:"next,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func NewDiagnostics(deps DiagnosticsDeps) *Diagnostics {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Diagnostics{deps: deps}
}

func (d *Diagnostics) Collect(ctx context.Context) Report {
	now := d.deps.Clock.Now().In(d.deps.Location)
	rep := Report{
		GeneratedAt: now,
		Healthy:     true,
		System: SystemInfo{
			Now:       now,
			Timezone:  d.deps.Location.String(),
			UTCOffset: now.Format("-07:00"),
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
	}

	if s := d.deps.Settings; s != nil {
		st := s.Current(ctx)
		rep.Settings = &SettingsInfo{Enabled: st.Enabled, HourOffset: st.HourOffset, Iqama: st.Iqama}
	}

	if a := d.deps.Alarms; a != nil {
		rep.Healthy = a.ValidateHealth()
		info := &TimerInfo{ExactPermitted: a.CanScheduleExact()}
		if d.deps.Timers != nil {
			info.Live = d.deps.Timers.Registrations()
		}
		rep.Timers = info
	}

	if st := d.deps.Store; st != nil {
		rep.Store = &StoreInfo{StoreStats: st.Stats(ctx), Records: st.Records(ctx)}
	}

	if r := d.deps.Receiver; r != nil {
		info := &ReceiverInfo{ReceiverStats: r.Stats()}
		if d.deps.WakeHold != nil {
			info.WakeHolds = d.deps.WakeHold.Held()
		}
		rep.Receiver = info
	}

	if p := d.deps.Prayers; p != nil {
		info := &PrayerTimeInfo{}
		if snap, err := p.Snapshot(ctx); err != nil {
			info.Error = err.Error()
			rep.Healthy = false
		} else {
			info.HasToday = len(snap.Today) > 0
			info.Today = snap.Today
			if next, err := p.NextUpcoming(ctx); err == nil {
				info.Next = next
			}
		}
		rep.PrayerTimes = info
	}

	if r := d.deps.Rescheduler; r != nil {
		last := r.LastRun()
		rep.LastRun = &last
		if last.Outcome == OutcomeFailed {
			rep.Healthy = false
		}
	}

	log.Debug().Str("component", "diagnostics").Bool("healthy", rep.Healthy).Msg("report collected")
	return rep
}
