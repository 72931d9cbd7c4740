// Package bot is the Telegram control bot: today's times, the next prayer,
// and the enable, offset, iqama and stop controls.
package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/domain"
	"github.com/tazhate/azancall/internal/scheduler"
	"github.com/tazhate/azancall/internal/service"
)

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Settings interface {
	Current(ctx context.Context) domain.Settings
	IqamaOffsetMinutes(ctx context.Context, index int) int
	SetEnabled(ctx context.Context, v bool) error
	SetHourOffset(ctx context.Context, v bool) error
	SetIqamaOffsetMinutes(ctx context.Context, name domain.PrayerName, minutes int) error
}

type Day interface {
	Snapshot(ctx context.Context) (*service.DailySnapshot, error)
	NextUpcoming(ctx context.Context) (*service.Upcoming, error)
}

type Triggerer interface {
	Trigger(reason scheduler.Reason)
}

type Deps struct {
	Settings Settings
	Day      Day
	Jobs     Triggerer
	Stop     func(ctx context.Context)
	Allowed  []int64
	Location *time.Location
}

type Bot struct {
	api     API
	deps    Deps
	allowed map[int64]bool
}

func New(api API, deps Deps) *Bot {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	allowed := make(map[int64]bool, len(deps.Allowed))
	for _, id := range deps.Allowed {
		allowed[id] = true
	}
	return &Bot{api: api, deps: deps, allowed: allowed}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "menu", Description: "🕌 Main menu"},
		{Command: "today", Description: "📅 Today's prayer times"},
		{Command: "next", Description: "⏭ Next prayer"},
		{Command: "enable", Description: "🔔 Enable the azan"},
		{Command: "disable", Description: "🔕 Disable the azan"},
		{Command: "offset", Description: "🕐 Hour offset on|off"},
		{Command: "iqama", Description: "⏱ Iqama minutes for a prayer"},
		{Command: "stop", Description: "⏹ Stop playback"},
		{Command: "help", Description: "❓ Commands"},
	}

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		log.Warn().Err(err).Str("component", "bot").Msg("failed to set commands")
	}
}

// Start long-polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.setCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	log.Info().Str("component", "bot").Int("allowed_users", len(b.allowed)).Msg("bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	return b.allowed[userID]
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) editMessage(chatID int64, msgID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, keyboard)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		log.Warn().Err(err).Str("component", "bot").Int64("chat", chatID).Msg("edit message")
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.Warn().Err(err).Str("component", "bot").Msg("answer callback")
	}
}

func (b *Bot) settingsChanged() {
	if b.deps.Jobs != nil {
		b.deps.Jobs.Trigger(scheduler.ReasonSettingsChanged)
	}
}
