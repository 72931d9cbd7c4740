// Package clockwatch notices wall-clock jumps, UTC offset changes and date
// rollovers, and reports them as reconciliation reasons.
package clockwatch

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/scheduler"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultTolerance = 90 * time.Second
)

// Sample is one reading of the clocks. Elapsed comes from a monotonic source,
// so comparing it against the wall delta exposes a clock set.
type Sample struct {
	Wall    time.Time
	Elapsed time.Duration
	Offset  int // seconds east of UTC
	Zone    string
	Date    string
}

func Take(wall time.Time, elapsed time.Duration, loc *time.Location) Sample {
	local := wall.In(loc)
	name, offset := local.Zone()
	return Sample{
		Wall:    wall.Round(0),
		Elapsed: elapsed,
		Offset:  offset,
		Zone:    loc.String() + "/" + name,
		Date:    local.Format("2006-01-02"),
	}
}

// Detect compares two samples and returns what changed, most significant first.
func Detect(prev, cur Sample, tolerance time.Duration) []scheduler.Reason {
	var out []scheduler.Reason

	drift := cur.Wall.Sub(prev.Wall) - (cur.Elapsed - prev.Elapsed)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		out = append(out, scheduler.ReasonTimeChanged)
	}
	if cur.Offset != prev.Offset || cur.Zone != prev.Zone {
		out = append(out, scheduler.ReasonTimezoneChanged)
	}
	if cur.Date != prev.Date {
		out = append(out, scheduler.ReasonDateChanged)
	}
	return out
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithTolerance(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.tolerance = d
		}
	}
}

// WithElapsed replaces the monotonic source, for tests.
func WithElapsed(fn func() time.Duration) Option {
	return func(w *Watcher) { w.elapsed = fn }
}

// WithLocation replaces the fixed location with one looked up on every tick.
func WithLocation(fn func() *time.Location) Option {
	return func(w *Watcher) { w.location = fn }
}

type Watcher struct {
	clock     clockwork.Clock
	notify    func(scheduler.Reason)
	interval  time.Duration
	tolerance time.Duration
	elapsed   func() time.Duration
	location  func() *time.Location
}

func New(clock clockwork.Clock, loc *time.Location, notify func(scheduler.Reason), opts ...Option) *Watcher {
	start := time.Now()
	w := &Watcher{
		clock:     clock,
		notify:    notify,
		interval:  DefaultInterval,
		tolerance: DefaultTolerance,
		elapsed:   func() time.Duration { return time.Since(start) },
		location:  func() *time.Location { return loc },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) sample() Sample {
	return Take(w.clock.Now(), w.elapsed(), w.location())
}

// Run polls until ctx is done. Only the most significant change per tick is
// reported; the immediate job coalesces the rest anyway.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	prev := w.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		cur := w.sample()
		if reasons := Detect(prev, cur, w.tolerance); len(reasons) > 0 {
			log.Info().Str("component", "clockwatch").
				Str("reason", string(reasons[0])).
				Time("was", prev.Wall).Time("now", cur.Wall).
				Str("zone", cur.Zone).Msg("clock change detected")
			w.notify(reasons[0])
		}
		prev = cur
	}
}
