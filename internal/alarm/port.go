// Package alarm is the in-process one-shot wake timer facility.
//
// Timers are keyed by (key, descriptor). A single goroutine sleeps until the
// earliest fire time, capped at 60s so that wall-clock jumps and host suspend
// are noticed within a minute instead of drifting with the monotonic clock.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// WindowLength bounds the inexact fallback: the timer fires within [at, at+WindowLength].
	WindowLength = 60 * time.Second

	DefaultMaxRegistrations = 500

	maxSleepCap = 60 * time.Second
)

var (
	ErrPortClosed           = errors.New("timer port closed")
	ErrTooManyRegistrations = errors.New("too many timer registrations")
)

// Callback identifies who is woken. Descriptor is the receiver action and is
// part of the registration identity together with the key.
type Callback struct {
	Descriptor string
	Event      string
}

// Handler is woken with the key of the registration that fired, so it can
// tell a stale firing from the current booking for the same event.
type Handler interface {
	OnAlarm(ctx context.Context, key int32, event string, deliveredAt time.Time)
}

type HandlerFunc func(ctx context.Context, key int32, event string, deliveredAt time.Time)

func (f HandlerFunc) OnAlarm(ctx context.Context, key int32, event string, deliveredAt time.Time) {
	f(ctx, key, event, deliveredAt)
}

type Registration struct {
	Key         int32
	Callback    Callback
	RequestedAt time.Time
	FireAt      time.Time
	Exact       bool
}

type regID struct {
	key        int32
	descriptor string
}

type Port struct {
	clock   clockwork.Clock
	handler Handler

	mu      sync.Mutex
	regs    map[regID]*Registration
	exact   bool
	maxRegs int
	jitter  func() time.Duration
	closed  bool

	wake chan struct{}
	wg   sync.WaitGroup
}

type Option func(*Port)

// WithExactPermitted sets the initial exact-timer permission.
func WithExactPermitted(ok bool) Option {
	return func(p *Port) { p.exact = ok }
}

func WithMaxRegistrations(n int) Option {
	return func(p *Port) { p.maxRegs = n }
}

// WithJitter replaces the random offset used by the windowed fallback.
func WithJitter(fn func() time.Duration) Option {
	return func(p *Port) { p.jitter = fn }
}

func New(clock clockwork.Clock, handler Handler, opts ...Option) *Port {
	p := &Port{
		clock:   clock,
		handler: handler,
		regs:    make(map[regID]*Registration),
		exact:   true,
		maxRegs: DefaultMaxRegistrations,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(WindowLength)))
		},
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Port) CanScheduleExact() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exact
}

func (p *Port) SetExactPermitted(ok bool) {
	p.mu.Lock()
	p.exact = ok
	p.mu.Unlock()
	log.Info().Str("component", "alarm").Bool("exact", ok).Msg("exact timer permission changed")
}

// ScheduleOneShot registers (or replaces) the timer for key. It reports false
// only when the registration itself was refused.
func (p *Port) ScheduleOneShot(key int32, at time.Time, cb Callback) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "alarm").Int32("key", key).Interface("panic", r).Msg("timer registration panicked")
			ok = false
		}
	}()

	if err := p.register(key, at, cb); err != nil {
		log.Error().Err(err).Str("component", "alarm").Int32("key", key).Str("event", cb.Event).Msg("timer registration failed")
		return false
	}
	return true
}

func (p *Port) register(key int32, at time.Time, cb Callback) error {
	if key <= 0 {
		return fmt.Errorf("invalid key %d", key)
	}
	if cb.Descriptor == "" || cb.Event == "" {
		return fmt.Errorf("incomplete callback %+v", cb)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	at = at.Round(0) // wall clock only
	id := regID{key: key, descriptor: cb.Descriptor}
	if _, exists := p.regs[id]; !exists && len(p.regs) >= p.maxRegs {
		return ErrTooManyRegistrations
	}

	reg := &Registration{
		Key:         key,
		Callback:    cb,
		RequestedAt: at,
		FireAt:      at,
		Exact:       p.exact,
	}
	if !p.exact {
		reg.FireAt = at.Add(p.jitter())
	}
	p.regs[id] = reg
	p.signal()

	log.Debug().Str("component", "alarm").Int32("key", key).Str("event", cb.Event).
		Time("fire_at", reg.FireAt).Bool("exact", reg.Exact).Msg("timer registered")
	return nil
}

// Cancel removes the timer for (key, descriptor). Unknown pairs are a no-op.
func (p *Port) Cancel(key int32, cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := regID{key: key, descriptor: cb.Descriptor}
	if _, ok := p.regs[id]; !ok {
		return
	}
	delete(p.regs, id)
	p.signal()
	log.Debug().Str("component", "alarm").Int32("key", key).Str("event", cb.Event).Msg("timer cancelled")
}

// Registrations returns live timers ordered by fire time.
func (p *Port) Registrations() []Registration {
	p.mu.Lock()
	out := make([]Registration, 0, len(p.regs))
	for _, r := range p.regs {
		out = append(out, *r)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Run drives the timers until ctx is done. Handlers run on their own goroutines
// and Run waits for them before returning.
func (p *Port) Run(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.wg.Wait()
	}()

	for {
		var tick <-chan time.Time
		var timer clockwork.Timer
		if d, ok := p.nextDelay(); ok {
			timer = p.clock.NewTimer(d)
			tick = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-p.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
			p.fireDue(ctx)
		}
	}
}

func (p *Port) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Port) nextDelay() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.regs) == 0 {
		return 0, false
	}
	var next time.Time
	for _, r := range p.regs {
		if next.IsZero() || r.FireAt.Before(next) {
			next = r.FireAt
		}
	}

	// FireAt carries no monotonic reading, so this compares wall clocks.
	d := next.Sub(p.clock.Now())
	if d > maxSleepCap {
		d = maxSleepCap
	}
	if d < 0 {
		d = 0
	}
	return d, true
}

func (p *Port) fireDue(ctx context.Context) {
	now := p.clock.Now()

	p.mu.Lock()
	var due []*Registration
	for id, r := range p.regs {
		if !r.FireAt.After(now) {
			due = append(due, r)
			delete(p.regs, id)
		}
	}
	p.mu.Unlock()

	for _, r := range due {
		r := r
		log.Info().Str("component", "alarm").Int32("key", r.Key).Str("event", r.Callback.Event).
			Dur("late", now.Sub(r.RequestedAt)).Msg("timer fired")
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handler.OnAlarm(ctx, r.Key, r.Callback.Event, now)
		}()
	}
}
