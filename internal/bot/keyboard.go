package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/azancall/internal/domain"
)

// Main menu keyboard
func mainMenuKeyboard(st domain.Settings) tgbotapi.InlineKeyboardMarkup {
	toggle := tgbotapi.NewInlineKeyboardButtonData("🔕 Disable", "toggle:enabled")
	if !st.Enabled {
		toggle = tgbotapi.NewInlineKeyboardButtonData("🔔 Enable", "toggle:enabled")
	}
	offset := tgbotapi.NewInlineKeyboardButtonData("🕐 +1h: off", "toggle:offset")
	if st.HourOffset {
		offset = tgbotapi.NewInlineKeyboardButtonData("🕐 +1h: on", "toggle:offset")
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Today", "menu:today"),
			tgbotapi.NewInlineKeyboardButtonData("⏭ Next", "menu:next"),
		),
		tgbotapi.NewInlineKeyboardRow(toggle, offset),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏹ Stop", "stop"),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Reschedule", "reconcile"),
		),
	)
}

func todayKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄", "refresh:today"),
			tgbotapi.NewInlineKeyboardButtonData("◀️ Menu", "menu:main"),
		),
	)
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ Menu", "menu:main"),
		),
	)
}
