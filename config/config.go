package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"client_id"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"` // announcement chat

	Commands     bool    `yaml:"commands"` // run the control bot
	AllowedUsers []int64 `yaml:"allowed_users"`
}

type Config struct {
	DatabasePath string         `yaml:"database_path"`
	TimezoneName string         `yaml:"timezone"`
	Timezone     *time.Location `yaml:"-"`

	StoreBackend string      `yaml:"store_backend"` // sqlite | redis
	Redis        RedisConfig `yaml:"redis"`

	SeedFile  string   `yaml:"seed_file"`
	AudioFile string   `yaml:"audio_file"`
	Playback  []string `yaml:"playback"` // local, mqtt, telegram, log

	MQTT     MQTTConfig     `yaml:"mqtt"`
	Telegram TelegramConfig `yaml:"telegram"`

	ExactTimers     bool          `yaml:"exact_timers"`
	RescheduleCron  string        `yaml:"reschedule_cron"`
	RescheduleFlex  time.Duration `yaml:"reschedule_flex"`
	SettingsTimeout time.Duration `yaml:"settings_timeout"`

	AdminAddr string `yaml:"admin_addr"` // empty disables the admin API
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console | json
}

func defaults() Config {
	return Config{
		DatabasePath:    "./data/azan.db",
		TimezoneName:    "Asia/Riyadh",
		StoreBackend:    "sqlite",
		Playback:        []string{"log"},
		MQTT:            MQTTConfig{Topic: "azan/speaker", ClientID: "azand"},
		ExactTimers:     true,
		RescheduleCron:  "1 0 * * *",
		RescheduleFlex:  15 * time.Minute,
		SettingsTimeout: 2 * time.Second,
		AdminAddr:       "127.0.0.1:8089",
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load reads .env when present, then the optional AZAN_CONFIG_FILE, then the
// environment. Environment values win.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv("AZAN_CONFIG_FILE"), os.LookupEnv)
}

func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str("DATABASE_PATH", &cfg.DatabasePath)
	str("TIMEZONE", &cfg.TimezoneName)
	str("AZAN_STORE_BACKEND", &cfg.StoreBackend)
	str("REDIS_ADDRESS", &cfg.Redis.Address)
	str("REDIS_USERNAME", &cfg.Redis.Username)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("AZAN_SEED_FILE", &cfg.SeedFile)
	str("AZAN_AUDIO_FILE", &cfg.AudioFile)
	str("MQTT_BROKER_URL", &cfg.MQTT.BrokerURL)
	str("MQTT_TOPIC", &cfg.MQTT.Topic)
	str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	str("AZAN_RESCHEDULE_CRON", &cfg.RescheduleCron)
	str("AZAN_ADMIN_ADDR", &cfg.AdminAddr)
	str("AZAN_LOG_LEVEL", &cfg.LogLevel)
	str("AZAN_LOG_FORMAT", &cfg.LogFormat)

	if v, ok := lookup("AZAN_PLAYBACK"); ok {
		cfg.Playback = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				cfg.Playback = append(cfg.Playback, p)
			}
		}
	}

	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New("TELEGRAM_CHAT_ID must be a number")
		}
		cfg.Telegram.ChatID = id
	}

	if v, ok := lookup("TELEGRAM_ALLOWED_USERS"); ok {
		cfg.Telegram.AllowedUsers = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			id, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid TELEGRAM_ALLOWED_USERS entry %q", p)
			}
			cfg.Telegram.AllowedUsers = append(cfg.Telegram.AllowedUsers, id)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"AZAN_EXACT_TIMERS", &cfg.ExactTimers},
		{"TELEGRAM_COMMANDS", &cfg.Telegram.Commands},
	}
	for _, b := range bools {
		if v, ok := lookup(b.key); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AZAN_RESCHEDULE_FLEX", &cfg.RescheduleFlex},
		{"AZAN_SETTINGS_TIMEOUT", &cfg.SettingsTimeout},
	}
	for _, d := range durations {
		if v, ok := lookup(d.key); ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}
	return nil
}

func (c *Config) validate() error {
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Timezone = tz

	if _, err := cron.ParseStandard(c.RescheduleCron); err != nil {
		return fmt.Errorf("invalid AZAN_RESCHEDULE_CRON: %w", err)
	}
	if c.RescheduleFlex < 0 {
		return errors.New("AZAN_RESCHEDULE_FLEX must not be negative")
	}
	if c.SettingsTimeout <= 0 {
		return errors.New("AZAN_SETTINGS_TIMEOUT must be positive")
	}

	switch c.StoreBackend {
	case "sqlite":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("REDIS_ADDRESS is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown AZAN_STORE_BACKEND %q", c.StoreBackend)
	}

	if len(c.Playback) == 0 {
		c.Playback = []string{"log"}
	}
	for _, p := range c.Playback {
		switch p {
		case "log", "none":
		case "local":
			if c.AudioFile == "" {
				return errors.New("AZAN_AUDIO_FILE is required for local playback")
			}
		case "mqtt":
			if c.MQTT.BrokerURL == "" {
				return errors.New("MQTT_BROKER_URL is required for mqtt playback")
			}
		case "telegram":
			if c.Telegram.Token == "" || c.Telegram.ChatID == 0 {
				return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required for telegram playback")
			}
		default:
			return fmt.Errorf("unknown playback output %q", p)
		}
	}

	if c.Telegram.Commands {
		if c.Telegram.Token == "" {
			return errors.New("TELEGRAM_BOT_TOKEN is required for the control bot")
		}
		if len(c.Telegram.AllowedUsers) == 0 {
			return errors.New("TELEGRAM_ALLOWED_USERS is required for the control bot")
		}
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown AZAN_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func (c *Config) IsAllowedUser(telegramID int64) bool {
	for _, id := range c.Telegram.AllowedUsers {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) PlaybackEnabled(name string) bool {
	for _, p := range c.Playback {
		if p == name {
			return true
		}
	}
	return false
}
