package domain

import "time"

// ScheduledEvent is the durable record of one booked timer. At most one per name.
type ScheduledEvent struct {
	Name        string    `json:"name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	TimerKey    int32     `json:"timer_key"`
	BookedAt    time.Time `json:"booked_at"`
}

func (e ScheduledEvent) Valid() bool {
	if e.Name == "" || e.TimerKey <= 0 {
		return false
	}
	if e.ScheduledAt.UnixMilli() <= 0 || e.BookedAt.UnixMilli() <= 0 {
		return false
	}
	return e.ScheduledAt.After(e.BookedAt)
}
