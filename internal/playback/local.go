package playback

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// oto allows one context per process.
var (
	otoCtx     *oto.Context
	otoCtxErr  error
	otoCtxOnce sync.Once
)

func audioContext(format *wavFormat) (*oto.Context, error) {
	otoCtxOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoCtxErr = fmt.Errorf("init audio context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		log.Info().Str("component", "playback").Int("sample_rate", format.SampleRate).
			Int("channels", format.Channels).Msg("audio context ready")
	})
	return otoCtx, otoCtxErr
}

// LocalPlayer plays a WAV file on the host's sound device.
type LocalPlayer struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	pcm     []byte
	format  *wavFormat
	current *oto.Player
	stop    chan struct{}
}

func NewLocalPlayer(fs afero.Fs, path string) *LocalPlayer {
	return &LocalPlayer{fs: fs, path: path}
}

// load reads and parses the file once; later calls reuse the samples.
func (p *LocalPlayer) load() (*wavFormat, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pcm != nil {
		return p.format, p.pcm, nil
	}

	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	format, pcm, err := parseWAV(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	p.format, p.pcm = format, pcm
	return format, pcm, nil
}

func (p *LocalPlayer) Start(ctx context.Context, prayer string) bool {
	logger := log.With().Str("component", "playback").Str("output", "local").Str("prayer", prayer).Logger()

	format, pcm, err := p.load()
	if err != nil {
		logger.Error().Err(err).Msg("azan audio unavailable")
		return false
	}
	audio, err := audioContext(format)
	if err != nil {
		logger.Error().Err(err).Msg("audio device unavailable")
		return false
	}

	p.Stop(ctx)

	player := audio.NewPlayer(bytes.NewReader(pcm))
	stop := make(chan struct{})

	p.mu.Lock()
	p.current, p.stop = player, stop
	p.mu.Unlock()

	player.Play()
	go p.wait(player, stop)

	logger.Info().Msg("azan playing")
	return true
}

func (p *LocalPlayer) wait(player *oto.Player, stop chan struct{}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-stop:
			player.Pause()
			if err := player.Close(); err != nil {
				log.Warn().Err(err).Str("component", "playback").Msg("close player")
			}
			return
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	if p.current == player {
		p.current, p.stop = nil, nil
	}
	p.mu.Unlock()
	if err := player.Close(); err != nil {
		log.Warn().Err(err).Str("component", "playback").Msg("close player")
	}
}

func (p *LocalPlayer) Stop(context.Context) {
	p.mu.Lock()
	stop := p.stop
	p.current, p.stop = nil, nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		log.Info().Str("component", "playback").Str("output", "local").Msg("azan stopped")
	}
}
