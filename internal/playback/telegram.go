package playback

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Sender is the part of tgbotapi.BotAPI the announcer needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAnnouncer posts a text message to a chat when a prayer is due.
type TelegramAnnouncer struct {
	api    Sender
	chatID int64
	loc    *time.Location
	now    func() time.Time
}

func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info().Str("component", "telegram").Str("bot", api.Self.UserName).Msg("authorized")
	return api, nil
}

func NewTelegramAnnouncer(api Sender, chatID int64, loc *time.Location) *TelegramAnnouncer {
	return &TelegramAnnouncer{api: api, chatID: chatID, loc: loc, now: time.Now}
}

func (a *TelegramAnnouncer) Start(_ context.Context, prayer string) bool {
	text := fmt.Sprintf("🕌 <b>%s</b> · %s", prayer, a.now().In(a.loc).Format("15:04"))
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := a.api.Send(msg); err != nil {
		log.Error().Err(err).Str("component", "playback").Str("output", "telegram").Int64("chat", a.chatID).Msg("send announcement")
		return false
	}
	return true
}

// Stop does nothing; a sent message cannot be taken back.
func (a *TelegramAnnouncer) Stop(context.Context) {}
