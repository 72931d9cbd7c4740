package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/azancall/internal/domain"
	"github.com/tazhate/azancall/internal/scheduler"
	"github.com/tazhate/azancall/internal/service"
)

const (
	ownerID    int64 = 1001
	chatID     int64 = 42
	strangerID int64 = 666
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	switch c := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return c.Text
	case tgbotapi.EditMessageTextConfig:
		return c.Text
	}
	return ""
}

func (f *fakeAPI) lastCallbackText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if c, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return c.Text
		}
	}
	return ""
}

type fakeSettings struct {
	st  domain.Settings
	err error
}

func (f *fakeSettings) Current(context.Context) domain.Settings { return f.st }

func (f *fakeSettings) IqamaOffsetMinutes(_ context.Context, index int) int {
	return f.st.Iqama[domain.AllPrayers[index]]
}

func (f *fakeSettings) SetEnabled(_ context.Context, v bool) error {
	if f.err != nil {
		return f.err
	}
	f.st.Enabled = v
	return nil
}

func (f *fakeSettings) SetHourOffset(_ context.Context, v bool) error {
	if f.err != nil {
		return f.err
	}
	f.st.HourOffset = v
	return nil
}

func (f *fakeSettings) SetIqamaOffsetMinutes(_ context.Context, name domain.PrayerName, minutes int) error {
	if minutes < 0 {
		return errors.New("iqama offset must not be negative")
	}
	f.st.Iqama[name] = minutes
	return nil
}

type fakeDay struct {
	snap *service.DailySnapshot
	next *service.Upcoming
}

func (f *fakeDay) Snapshot(context.Context) (*service.DailySnapshot, error) { return f.snap, nil }

func (f *fakeDay) NextUpcoming(context.Context) (*service.Upcoming, error) { return f.next, nil }

type fakeJobs struct {
	reasons []scheduler.Reason
}

func (f *fakeJobs) Trigger(reason scheduler.Reason) { f.reasons = append(f.reasons, reason) }

type fixture struct {
	bot      *Bot
	api      *fakeAPI
	settings *fakeSettings
	jobs     *fakeJobs
	stops    int
}

func newFixture() *fixture {
	f := &fixture{
		api:      &fakeAPI{updates: make(chan tgbotapi.Update)},
		settings: &fakeSettings{st: domain.DefaultSettings()},
		jobs:     &fakeJobs{},
	}

	at := func(h, m int) time.Time { return time.Date(2025, 3, 1, h, m, 0, 0, time.UTC) }
	day := &fakeDay{
		snap: &service.DailySnapshot{
			Date: "2025-03-01",
			Today: []domain.PrayerInstant{
				{Name: domain.Fajr, At: at(4, 30)},
				{Name: domain.Sunrise, At: at(5, 50)},
				{Name: domain.Dhuhr, At: at(12, 15)},
			},
		},
		next: &service.Upcoming{Name: domain.Dhuhr, At: at(12, 15), Iqama: at(12, 35), Remaining: 2*time.Hour + 5*time.Minute + 30*time.Second},
	}

	f.bot = New(f.api, Deps{
		Settings: f.settings,
		Day:      day,
		Jobs:     f.jobs,
		Stop:     func(context.Context) { f.stops++ },
		Allowed:  []int64{ownerID},
		Location: time.UTC,
	})
	return f
}

func command(from int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func TestHandleMessage_RejectsUnknownUser(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(strangerID, "/disable"))

	assert.Equal(t, "⛔ Access denied", f.api.lastText())
	assert.True(t, f.settings.st.Enabled)
	assert.Empty(t, f.jobs.reasons)
}

func TestCommand_Today(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/today"))

	text := f.api.lastText()
	assert.Contains(t, text, "<b>2025-03-01</b>")
	assert.Contains(t, text, "<b>Fajr</b>  <code>04:30</code>  iqama 04:55")
	assert.Contains(t, text, "Sunrise  <code>05:50</code>\n")
	assert.Contains(t, text, "<b>Dhuhr</b>  <code>12:15</code>  iqama 12:35")
}

func TestCommand_Next(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/next"))

	assert.Equal(t, "⏭ <b>Dhuhr</b> at 12:15\niqama 12:35\nin 2h 05m", f.api.lastText())
}

func TestCommand_DisableTriggersReconcile(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/disable"))

	assert.False(t, f.settings.st.Enabled)
	assert.Equal(t, []scheduler.Reason{scheduler.ReasonSettingsChanged}, f.jobs.reasons)
	assert.Equal(t, "🔕 Azan disabled", f.api.lastText())
}

func TestCommand_SettingsError(t *testing.T) {
	f := newFixture()
	f.settings.err = errors.New("database is locked")

	f.bot.handleUpdate(context.Background(), command(ownerID, "/enable"))

	assert.Equal(t, "❌ database is locked", f.api.lastText())
	assert.Empty(t, f.jobs.reasons)
}

func TestCommand_Offset(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/offset maybe"))
	assert.Equal(t, "Usage: /offset on|off", f.api.lastText())
	assert.False(t, f.settings.st.HourOffset)

	f.bot.handleUpdate(context.Background(), command(ownerID, "/offset on"))
	assert.True(t, f.settings.st.HourOffset)
	assert.Len(t, f.jobs.reasons, 1)
}

func TestCommand_Iqama(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/iqama asr 15"))
	assert.Equal(t, 15, f.settings.st.Iqama[domain.Asr])
	assert.Equal(t, "✅ Asr iqama: 15 min after the call", f.api.lastText())

	f.bot.handleUpdate(context.Background(), command(ownerID, "/iqama tahajjud 5"))
	assert.Contains(t, f.api.lastText(), "Unknown prayer")

	f.bot.handleUpdate(context.Background(), command(ownerID, "/iqama asr later"))
	assert.Equal(t, "❌ Minutes must be a number", f.api.lastText())

	f.bot.handleUpdate(context.Background(), command(ownerID, "/iqama asr"))
	assert.Equal(t, "Usage: /iqama dhuhr 20", f.api.lastText())
}

func TestCommand_Stop(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), command(ownerID, "/stop"))

	assert.Equal(t, 1, f.stops)
	assert.Equal(t, "⏹ Playback stopped", f.api.lastText())
}

func TestCommand_Menu(t *testing.T) {
	f := newFixture()
	f.settings.st.Enabled = false

	f.bot.handleUpdate(context.Background(), command(ownerID, "/menu"))

	f.api.mu.Lock()
	msg, ok := f.api.sent[0].(tgbotapi.MessageConfig)
	f.api.mu.Unlock()
	require.True(t, ok)
	assert.Contains(t, msg.Text, "🔕 disabled")

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "🔔 Enable", kb.InlineKeyboard[1][0].Text)
}

func TestCallback_ToggleEnabled(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), callback(ownerID, "toggle:enabled"))

	assert.False(t, f.settings.st.Enabled)
	assert.Equal(t, []scheduler.Reason{scheduler.ReasonSettingsChanged}, f.jobs.reasons)
	assert.Equal(t, "✅ Saved", f.api.lastCallbackText())
	assert.Contains(t, f.api.lastText(), "🔕 disabled", "menu redrawn in place")
}

func TestCallback_StopAndReconcile(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), callback(ownerID, "stop"))
	assert.Equal(t, 1, f.stops)

	f.bot.handleUpdate(context.Background(), callback(ownerID, "reconcile"))
	assert.Equal(t, []scheduler.Reason{scheduler.ReasonManual}, f.jobs.reasons)
}

func TestCallback_RejectsUnknownUser(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), callback(strangerID, "stop"))

	assert.Equal(t, 0, f.stops)
	assert.Equal(t, "⛔ Access denied", f.api.lastCallbackText())
}

func TestCallback_TodayScreen(t *testing.T) {
	f := newFixture()

	f.bot.handleUpdate(context.Background(), callback(ownerID, "menu:today"))

	f.api.mu.Lock()
	edit, ok := f.api.sent[len(f.api.sent)-1].(tgbotapi.EditMessageTextConfig)
	f.api.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 7, edit.MessageID)
	assert.Contains(t, edit.Text, "iqama 04:55")
}

func TestSetCommands_RegistersEveryHandledCommand(t *testing.T) {
	f := newFixture()
	f.bot.setCommands()

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	require.NotEmpty(t, f.api.requests)
	cfg, ok := f.api.requests[0].(tgbotapi.SetMyCommandsConfig)
	require.True(t, ok)

	var names []string
	for _, c := range cfg.Commands {
		names = append(names, c.Command)
	}
	assert.ElementsMatch(t, []string{"menu", "today", "next", "enable", "disable", "offset", "iqama", "stop", "help"}, names)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.bot.Start(ctx) }()

	f.api.updates <- command(ownerID, "/stop")
	cancel()

	require.NoError(t, <-done)
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	assert.True(t, f.api.stopped)
	assert.Equal(t, 1, f.stops)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "0 min", formatRemaining(30*time.Second))
	assert.Equal(t, "45 min", formatRemaining(45*time.Minute))
	assert.Equal(t, "1h 00m", formatRemaining(time.Hour))
	assert.Equal(t, "13h 07m", formatRemaining(13*time.Hour+7*time.Minute+59*time.Second))
}
