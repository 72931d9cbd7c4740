package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tazhate/azancall/config"
	"github.com/tazhate/azancall/internal/alarm"
	"github.com/tazhate/azancall/internal/bot"
	"github.com/tazhate/azancall/internal/clockwatch"
	"github.com/tazhate/azancall/internal/httpapi"
	"github.com/tazhate/azancall/internal/metrics"
	"github.com/tazhate/azancall/internal/playback"
	"github.com/tazhate/azancall/internal/scheduler"
	"github.com/tazhate/azancall/internal/service"
	"github.com/tazhate/azancall/internal/storage"
)

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildPlayback returns the configured outputs and a func closing their connections.
func buildPlayback(cfg *config.Config, tg *tgbotapi.BotAPI) (playback.Multi, func(), error) {
	var (
		outs    playback.Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Playback {
		switch name {
		case "local":
			outs = append(outs, playback.NewLocalPlayer(afero.NewOsFs(), cfg.AudioFile))
		case "mqtt":
			client, err := playback.ConnectMQTT(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			speaker := playback.NewMQTTSpeaker(client, cfg.MQTT.Topic)
			closers = append(closers, speaker.Close)
			outs = append(outs, speaker)
		case "telegram":
			outs = append(outs, playback.NewTelegramAnnouncer(tg, cfg.Telegram.ChatID, cfg.Timezone))
		case "log", "none":
			outs = append(outs, playback.Log{})
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown playback output %q", name)
		}
	}
	return outs, closeAll, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer db.Close()

	if cfg.SeedFile != "" {
		if _, err := service.SeedPrayerTimes(ctx, afero.NewOsFs(), cfg.SeedFile, db, false); err != nil {
			log.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("failed to seed prayer table")
		}
	}

	var records storage.RecordBackend = db
	if cfg.StoreBackend == "redis" {
		rb, err := storage.NewRedisBackend(ctx, cfg.Redis.Address, cfg.Redis.Username, cfg.Redis.Password, "")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rb.Close()
		records = rb
	}

	collector := metrics.NewCollector()
	settings := service.NewSettingsService(db, cfg.SettingsTimeout)
	prayers := service.NewPrayerTimes(db, settings, clock, cfg.Timezone)
	store := service.NewScheduleStore(records, clock)

	var tg *tgbotapi.BotAPI
	if cfg.PlaybackEnabled("telegram") || cfg.Telegram.Commands {
		tg, err = playback.NewTelegramBot(cfg.Telegram.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init telegram")
		}
	}

	outputs, closeOutputs, err := buildPlayback(cfg, tg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init playback")
	}
	defer closeOutputs()

	wake := service.NewTimedWakeHold(clock)
	receiver := service.NewReceiver(settings, store, outputs, wake, clock, collector)
	receiver.SetSettingsTimeout(cfg.SettingsTimeout)

	timers := alarm.New(clock, receiver, alarm.WithExactPermitted(cfg.ExactTimers))
	codec := service.NewKeyCodec(cfg.Timezone)
	alarms := service.NewAlarmScheduler(store, timers, codec, outputs, clock, collector)
	resched := service.NewRescheduler(settings, prayers, alarms, codec, clock, cfg.Timezone, collector)

	jobs, err := scheduler.New(scheduler.Config{
		Spec:     cfg.RescheduleCron,
		Flex:     cfg.RescheduleFlex,
		Location: cfg.Timezone,
	}, resched, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init scheduler")
	}

	clockChanged := func(reason scheduler.Reason) {
		prayers.Invalidate()
		jobs.Trigger(reason)
	}
	watcher := clockwatch.New(clock, cfg.Timezone, clockChanged)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { timers.Run(ctx) })
	run(func() { receiver.RunSweeper(ctx, service.DefaultSweepTick) })
	run(func() { watcher.Run(ctx) })
	run(func() {
		if err := jobs.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler error")
		}
	})

	stopPlayback := func(ctx context.Context) {
		outputs.Stop(ctx)
		receiver.MarkStopped()
	}

	if cfg.Telegram.Commands {
		controlBot := bot.New(tg, bot.Deps{
			Settings: settings,
			Day:      prayers,
			Jobs:     jobs,
			Stop:     stopPlayback,
			Allowed:  cfg.Telegram.AllowedUsers,
			Location: cfg.Timezone,
		})
		run(func() {
			if err := controlBot.Start(ctx); err != nil {
				log.Error().Err(err).Msg("control bot error")
			}
		})
	}

	var api *httpapi.Server
	if cfg.AdminAddr != "" {
		api = httpapi.New(cfg.AdminAddr, httpapi.Deps{
			Diagnostics: service.NewDiagnostics(service.DiagnosticsDeps{
				Clock:       clock,
				Location:    cfg.Timezone,
				Settings:    settings,
				Store:       store,
				Alarms:      alarms,
				Timers:      timers,
				Receiver:    receiver,
				WakeHold:    wake,
				Prayers:     prayers,
				Rescheduler: resched,
			}),
			Jobs:    jobs,
			Day:     prayers,
			Store:   store,
			Stop:    stopPlayback,
			Metrics: metrics.Handler(),
			Now:     clock.Now,
		})
		go func() {
			if err := api.Start(); err != nil {
				log.Error().Err(err).Msg("admin API error")
			}
		}()
	}

	jobs.Trigger(scheduler.ReasonAppStart)
	log.Info().Str("tz", cfg.Timezone.String()).Strs("playback", cfg.Playback).Msg("azand started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP, rescheduling")
			clockChanged(scheduler.ReasonTimeChanged)
			continue
		}
		break
	}

	log.Info().Msg("shutting down")

	cancel()
	jobs.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping admin API")
		}
	}
	wg.Wait()
	wake.Wait()

	log.Info().Msg("azand stopped")
}
