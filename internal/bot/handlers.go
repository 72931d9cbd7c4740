package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/tazhate/azancall/internal/scheduler"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if !b.isAllowed(msg.From.ID) {
		log.Warn().Str("component", "bot").Int64("user", msg.From.ID).Msg("rejected message from unknown user")
		b.SendMessage(chatID, "⛔ Access denied")
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	b.SendMessage(chatID, "/menu shows the controls, /help lists the commands")
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.From == nil || callback.Message == nil || callback.Message.Chat == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if !b.isAllowed(callback.From.ID) {
		b.answer(callback.ID, "⛔ Access denied")
		return
	}

	parts := strings.Split(callback.Data, ":")

	switch parts[0] {
	case "menu", "refresh":
		if len(parts) < 2 {
			return
		}
		b.answer(callback.ID, "")
		b.showScreen(ctx, chatID, msgID, parts[1])

	case "toggle":
		if len(parts) < 2 {
			return
		}
		st := b.deps.Settings.Current(ctx)
		var err error
		switch parts[1] {
		case "enabled":
			err = b.deps.Settings.SetEnabled(ctx, !st.Enabled)
		case "offset":
			err = b.deps.Settings.SetHourOffset(ctx, !st.HourOffset)
		default:
			return
		}
		if err != nil {
			b.answer(callback.ID, "❌ "+err.Error())
			return
		}
		b.settingsChanged()
		b.answer(callback.ID, "✅ Saved")
		b.showScreen(ctx, chatID, msgID, "main")

	case "stop":
		if b.deps.Stop != nil {
			b.deps.Stop(ctx)
		}
		b.answer(callback.ID, "⏹ Stopped")

	case "reconcile":
		if b.deps.Jobs != nil {
			b.deps.Jobs.Trigger(scheduler.ReasonManual)
		}
		b.answer(callback.ID, "🔄 Rescheduling")

	default:
		b.answer(callback.ID, "")
	}
}

func (b *Bot) showScreen(ctx context.Context, chatID int64, msgID int, screen string) {
	switch screen {
	case "today":
		text, err := b.todayText(ctx)
		if err != nil {
			b.editMessage(chatID, msgID, "❌ "+err.Error(), backKeyboard())
			return
		}
		b.editMessage(chatID, msgID, text, todayKeyboard())
	case "next":
		text, err := b.nextText(ctx)
		if err != nil {
			text = "❌ " + err.Error()
		}
		b.editMessage(chatID, msgID, text, backKeyboard())
	default:
		st := b.deps.Settings.Current(ctx)
		b.editMessage(chatID, msgID, menuText(st), mainMenuKeyboard(st))
	}
}
