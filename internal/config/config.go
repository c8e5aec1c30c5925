package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultReminderSchedule = "0 0 12 * * *"
	DefaultReminderChannel  = "telegram"
	DefaultWebUIHost        = "127.0.0.1"
	DefaultWebUIPort        = 18790
	DefaultWebUIChatID      = 1
	DefaultBufSize          = 100
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultDispatchWorkers  = 8
	DefaultStorageDriver    = "sqlite"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	WebUI     WebUIConfig     `json:"webui"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Gateway   GatewayConfig   `json:"gateway"`
	Log       LogConfig       `json:"log"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

// WebUIConfig configures the local browser chat console.
type WebUIConfig struct {
	Enabled bool `json:"enabled"`
	// Host is the listen address. Anything but loopback requires AllowFrom.
	Host      string   `json:"host,omitempty"`
	Port      int      `json:"port,omitempty"`
	AllowFrom []string `json:"allowFrom"`
	// ChatID is used for browser sessions that do not pass ?chat=.
	ChatID int64 `json:"chatId,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	DBPath string `json:"dbPath,omitempty"`
}

type RemindersConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`           // cron expression with seconds field
	Timezone string `json:"timezone,omitempty"` // IANA name, empty means Local
	Channel  string `json:"channel"`
}

type GatewayConfig struct {
	Workers int `json:"workers"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text, json or logfmt
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Enabled: true},
		WebUI: WebUIConfig{
			Host:   DefaultWebUIHost,
			Port:   DefaultWebUIPort,
			ChatID: DefaultWebUIChatID,
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			DBPath: filepath.Join(ConfigDir(), "data", "remindme.db"),
		},
		Reminders: RemindersConfig{
			Enabled:  true,
			Schedule: DefaultReminderSchedule,
			Channel:  DefaultReminderChannel,
		},
		Gateway: GatewayConfig{
			Workers: DefaultDispatchWorkers,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".remindme")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// CronStorePath is where the scheduler keeps its job records.
func CronStorePath() string {
	return filepath.Join(ConfigDir(), "data", "cron", "jobs.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("REMINDME_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if proxy := os.Getenv("REMINDME_TELEGRAM_PROXY"); proxy != "" {
		cfg.Telegram.Proxy = proxy
	}
	if driver := os.Getenv("REMINDME_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dbPath := os.Getenv("REMINDME_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if tz := os.Getenv("REMINDME_TIMEZONE"); tz != "" {
		cfg.Reminders.Timezone = tz
	}
	if schedule := os.Getenv("REMINDME_REMINDER_SCHEDULE"); schedule != "" {
		cfg.Reminders.Schedule = schedule
	}
	if enabled := os.Getenv("REMINDME_WEBUI_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.WebUI.Enabled = parsed
		}
	}
	if host := os.Getenv("REMINDME_WEBUI_HOST"); host != "" {
		cfg.WebUI.Host = host
	}
	if port := os.Getenv("REMINDME_WEBUI_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.WebUI.Port = parsed
		}
	}
	if level := os.Getenv("REMINDME_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("REMINDME_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultConfig().Storage.DBPath
	}
	if cfg.Reminders.Schedule == "" {
		cfg.Reminders.Schedule = DefaultReminderSchedule
	}
	if cfg.Reminders.Channel == "" {
		cfg.Reminders.Channel = DefaultReminderChannel
	}
	if cfg.WebUI.Host == "" {
		cfg.WebUI.Host = DefaultWebUIHost
	}
	if cfg.WebUI.Port <= 0 {
		cfg.WebUI.Port = DefaultWebUIPort
	}
	if cfg.WebUI.ChatID == 0 {
		cfg.WebUI.ChatID = DefaultWebUIChatID
	}
	if cfg.Gateway.Workers <= 0 {
		cfg.Gateway.Workers = DefaultDispatchWorkers
	}
	if _, err := cfg.Reminders.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location resolves the reminder timezone. An empty name means time.Local.
func (r RemindersConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load reminder timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
