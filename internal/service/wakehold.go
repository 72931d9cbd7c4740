package service

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimedWakeHold counts active holds and force-releases each after its bound.
// On a server there is nothing to keep awake; the count feeds diagnostics and
// the daemon's shutdown waits for it to drain.
type TimedWakeHold struct {
	clock clockwork.Clock

	mu   sync.Mutex
	held int
	idle *sync.Cond
}

func NewTimedWakeHold(clock clockwork.Clock) *TimedWakeHold {
	w := &TimedWakeHold{clock: clock}
	w.idle = sync.NewCond(&w.mu)
	return w
}

func (w *TimedWakeHold) Acquire(tag string, limit time.Duration) func() {
	if limit <= 0 || limit > MaxWakeHold {
		limit = MaxWakeHold
	}

	w.mu.Lock()
	w.held++
	w.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			w.mu.Lock()
			w.held--
			if w.held == 0 {
				w.idle.Broadcast()
			}
			w.mu.Unlock()
		})
	}
	timer := w.clock.AfterFunc(limit, func() {
		log.Warn().Str("component", "wakehold").Str("tag", tag).Dur("limit", limit).Msg("wake hold expired")
		release()
	})
	return func() {
		timer.Stop()
		release()
	}
}

func (w *TimedWakeHold) Held() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

// Wait blocks until no hold is active.
func (w *TimedWakeHold) Wait() {
	w.mu.Lock()
	for w.held > 0 {
		w.idle.Wait()
	}
	w.mu.Unlock()
}
