// Package playback holds the outputs an azan can be played or announced on.
package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Output is what the receiver hands a prayer to.
type Output interface {
	Start(ctx context.Context, prayer string) bool
	Stop(ctx context.Context)
}

// Multi fans out to several outputs. Start reports true when any output started.
type Multi []Output

func (m Multi) Start(ctx context.Context, prayer string) bool {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started bool
	)
	for _, out := range m {
		wg.Add(1)
		go func(out Output) {
			defer wg.Done()
			if out.Start(ctx, prayer) {
				mu.Lock()
				started = true
				mu.Unlock()
			}
		}(out)
	}
	wg.Wait()
	return started
}

func (m Multi) Stop(ctx context.Context) {
	for _, out := range m {
		out.Stop(ctx)
	}
}

// Log only writes the call to the log. Used when no device is configured.
type Log struct{}

func (Log) Start(_ context.Context, prayer string) bool {
	log.Info().Str("component", "playback").Str("prayer", prayer).Msg("azan")
	return true
}

func (Log) Stop(context.Context) {
	log.Info().Str("component", "playback").Msg("azan stopped")
}
