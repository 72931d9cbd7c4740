package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/azancall/internal/domain"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "menu":
		b.cmdMenu(ctx, chatID)
	case "help":
		b.cmdHelp(chatID)
	case "today":
		b.cmdToday(ctx, chatID)
	case "next":
		b.cmdNext(ctx, chatID)
	case "enable":
		b.cmdSetEnabled(ctx, chatID, true)
	case "disable":
		b.cmdSetEnabled(ctx, chatID, false)
	case "offset":
		b.cmdOffset(ctx, chatID, args)
	case "iqama":
		b.cmdIqama(ctx, chatID, args)
	case "stop":
		b.cmdStop(ctx, chatID)
	default:
		b.SendMessage(chatID, "Unknown command. /help lists them")
	}
}

func (b *Bot) cmdMenu(ctx context.Context, chatID int64) {
	st := b.deps.Settings.Current(ctx)
	b.SendMessageWithKeyboard(chatID, menuText(st), mainMenuKeyboard(st))
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Commands:</b>

<b>Times</b>
/today - today's prayer times
/next - the next prayer

<b>Settings</b>
/enable, /disable - turn the azan on or off
/offset on|off - add one hour to the table
/iqama prayer minutes - e.g. /iqama dhuhr 20

<b>Playback</b>
/stop - stop the azan that is playing`

	b.SendMessage(chatID, text)
}

func (b *Bot) cmdToday(ctx context.Context, chatID int64) {
	text, err := b.todayText(ctx)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.SendMessageWithKeyboard(chatID, text, todayKeyboard())
}

func (b *Bot) cmdNext(ctx context.Context, chatID int64) {
	text, err := b.nextText(ctx)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.SendMessage(chatID, text)
}

func (b *Bot) cmdSetEnabled(ctx context.Context, chatID int64, enabled bool) {
	if err := b.deps.Settings.SetEnabled(ctx, enabled); err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.settingsChanged()

	if enabled {
		b.SendMessage(chatID, "🔔 Azan enabled")
	} else {
		b.SendMessage(chatID, "🔕 Azan disabled")
	}
}

func (b *Bot) cmdOffset(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		b.SendMessage(chatID, "Usage: /offset on|off")
		return
	}
	if err := b.deps.Settings.SetHourOffset(ctx, args[0] == "on"); err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.settingsChanged()
	b.SendMessage(chatID, "🕐 Hour offset "+args[0])
}

func (b *Bot) cmdIqama(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		b.SendMessage(chatID, "Usage: /iqama dhuhr 20")
		return
	}
	name, ok := domain.ParsePrayerName(args[0])
	if !ok {
		b.SendMessage(chatID, fmt.Sprintf("❌ Unknown prayer %q", args[0]))
		return
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		b.SendMessage(chatID, "❌ Minutes must be a number")
		return
	}
	if err := b.deps.Settings.SetIqamaOffsetMinutes(ctx, name, minutes); err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("✅ %s iqama: %d min after the call", name, minutes))
}

func (b *Bot) cmdStop(ctx context.Context, chatID int64) {
	if b.deps.Stop != nil {
		b.deps.Stop(ctx)
	}
	b.SendMessage(chatID, "⏹ Playback stopped")
}

func menuText(st domain.Settings) string {
	state := "🔔 enabled"
	if !st.Enabled {
		state = "🔕 disabled"
	}
	offset := "off"
	if st.HourOffset {
		offset = "on"
	}
	return fmt.Sprintf("🕌 <b>Azan</b>\n\nStatus: %s\nHour offset: %s", state, offset)
}

func (b *Bot) todayText(ctx context.Context) (string, error) {
	snap, err := b.deps.Day.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if snap == nil || len(snap.Today) == 0 {
		return "", errors.New("no prayer times for today")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 <b>%s</b>\n", snap.Date)
	if snap.HourOffset {
		sb.WriteString("<i>+1h offset</i>\n")
	}
	sb.WriteString("\n")
	for _, pi := range snap.Today {
		at := pi.At.In(b.deps.Location)
		if !pi.Name.Actionable() {
			fmt.Fprintf(&sb, "%s  <code>%s</code>\n", pi.Name, at.Format("15:04"))
			continue
		}
		mins := b.deps.Settings.IqamaOffsetMinutes(ctx, pi.Name.Index())
		iqama := at.Add(time.Duration(mins) * time.Minute)
		fmt.Fprintf(&sb, "<b>%s</b>  <code>%s</code>  iqama %s\n", pi.Name, at.Format("15:04"), iqama.Format("15:04"))
	}
	return sb.String(), nil
}

func (b *Bot) nextText(ctx context.Context) (string, error) {
	next, err := b.deps.Day.NextUpcoming(ctx)
	if err != nil {
		return "", err
	}
	if next == nil {
		return "", errors.New("no upcoming prayer in the table")
	}

	text := fmt.Sprintf("⏭ <b>%s</b> at %s", next.Name, next.At.In(b.deps.Location).Format("15:04"))
	if next.Name.Actionable() {
		text += fmt.Sprintf("\niqama %s", next.Iqama.In(b.deps.Location).Format("15:04"))
	}
	text += "\nin " + formatRemaining(next.Remaining)
	return text, nil
}

func formatRemaining(d time.Duration) string {
	d = d.Truncate(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
