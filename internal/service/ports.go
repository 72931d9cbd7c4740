package service

import (
	"context"
	"time"

	"github.com/tazhate/azancall/internal/alarm"
	"github.com/tazhate/azancall/internal/domain"
)

// DeliverDescriptor is the receiver action every prayer timer is registered with.
const DeliverDescriptor = "azan.deliver"

type TimerPort interface {
	CanScheduleExact() bool
	ScheduleOneShot(key int32, at time.Time, cb alarm.Callback) bool
	Cancel(key int32, cb alarm.Callback)
}

type AudioPlayback interface {
	Start(ctx context.Context, event string) bool
	Stop(ctx context.Context)
}

type SettingsReader interface {
	Enabled(ctx context.Context) bool
	HourOffset(ctx context.Context) bool
	IqamaOffsetMinutes(ctx context.Context, index int) int
}

// PrayerTimeSource returns nil, nil when the table has no row for the day.
type PrayerTimeSource interface {
	GetRow(ctx context.Context, month string, day int) (*domain.PrayerRow, error)
}

type Metrics interface {
	EventBooked(event string)
	EventRejected(reason string)
	EventsCancelled(n int)
	ReconcileFinished(outcome string, d time.Duration)
	DeliverySuppressed(reason string)
	DeliveryPlayed(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) EventBooked(string)                      {}
func (nopMetrics) EventRejected(string)                    {}
func (nopMetrics) EventsCancelled(int)                     {}
func (nopMetrics) ReconcileFinished(string, time.Duration) {}
func (nopMetrics) DeliverySuppressed(string)               {}
func (nopMetrics) DeliveryPlayed(bool)                     {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func deliverCallback(name string) alarm.Callback {
	return alarm.Callback{Descriptor: DeliverDescriptor, Event: name}
}
