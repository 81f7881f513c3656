// Package config manages application configuration from environment
// variables, config.yaml, and default values.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every configuration loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration. Values can be set via
// environment variables prefixed with BOT_ (e.g., BOT_TELEGRAM_TOKEN) or
// through config.yaml.
type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Kandinsky KandinskyConfig `mapstructure:"kandinsky"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Log       LogConfig       `mapstructure:"log"`
}

// TelegramConfig holds the bot credentials and delivery destination.
type TelegramConfig struct {
	Token         string `mapstructure:"token"           validate:"required"`
	DefaultChatID int64  `mapstructure:"default_chat_id"`
}

// AIConfig holds the Gemini greeting generation settings.
type AIConfig struct {
	APIKey            string  `mapstructure:"api_key"             validate:"required"`
	Model             string  `mapstructure:"model"               validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0,max=300"`
	PromptPath        string  `mapstructure:"prompt_path"`
	BelatedPromptPath string  `mapstructure:"belated_prompt_path"`
}

// KandinskyConfig holds the optional Fusion Brain image generation
// settings. Image generation is disabled when either key is empty.
type KandinskyConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	BaseURL         string        `mapstructure:"base_url"          validate:"required,url"`
	ImagesDir       string        `mapstructure:"images_dir"        validate:"required"`
	PromptPath      string        `mapstructure:"prompt_path"`
	Width           int           `mapstructure:"width"             validate:"min=0,max=2048"`
	Height          int           `mapstructure:"height"            validate:"min=0,max=2048"`
	PollInterval    time.Duration `mapstructure:"poll_interval"     validate:"required,min=1s,max=5m"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts" validate:"required,min=1,max=500"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"       validate:"required,min=10s,max=30m"`
	ImageMaxAge     time.Duration `mapstructure:"image_max_age"     validate:"min=0"`
}

// Enabled reports whether image generation is configured.
func (k KandinskyConfig) Enabled() bool {
	return k.APIKey != "" && k.SecretKey != ""
}

// EngineConfig holds the delivery engine tuning knobs.
type EngineConfig struct {
	RetryWindowDays        int           `mapstructure:"retry_window_days" validate:"min=0,max=30"`
	MessageDelay           time.Duration `mapstructure:"message_delay"     validate:"min=0,max=1m"`
	FallbackMessage        string        `mapstructure:"fallback_message"         validate:"required"`
	FallbackBelatedMessage string        `mapstructure:"fallback_belated_message" validate:"required"`
}

// PathsConfig holds the on-disk data locations.
type PathsConfig struct {
	UsersFile  string `mapstructure:"users_file"  validate:"required"`
	LedgerFile string `mapstructure:"ledger_file" validate:"required"`
	HistoryDB  string `mapstructure:"history_db"  validate:"required"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}
