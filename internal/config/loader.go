package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file (configPath, or config.yaml in the working directory)
// 3. BOT_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows from a default or
	// the config file. The secrets and prompt paths have neither, so bind
	// them explicitly or env-only deployments could never set them.
	for _, key := range []string{
		"telegram.token",
		"ai.api_key",
		"ai.prompt_path",
		"ai.belated_prompt_path",
		"kandinsky.api_key",
		"kandinsky.secret_key",
		"kandinsky.prompt_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: failed to bind environment key %s: %v", ErrConfiguration, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine, an explicit one is not.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configPath != "" {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("telegram.default_chat_id", 0)

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.temperature", 1.0)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.retry_delay_seconds", 5)

	v.SetDefault("kandinsky.base_url", "https://api-key.fusionbrain.ai/")
	v.SetDefault("kandinsky.images_dir", "images")
	v.SetDefault("kandinsky.width", 1024)
	v.SetDefault("kandinsky.height", 1024)
	v.SetDefault("kandinsky.poll_interval", 10*time.Second)
	v.SetDefault("kandinsky.max_poll_attempts", 30)
	v.SetDefault("kandinsky.job_timeout", 300*time.Second)
	v.SetDefault("kandinsky.image_max_age", 7*24*time.Hour)

	v.SetDefault("engine.retry_window_days", 2)
	v.SetDefault("engine.message_delay", time.Second)
	v.SetDefault("engine.fallback_message", "Happy birthday, %s! Wishing you a wonderful year ahead.")
	v.SetDefault("engine.fallback_belated_message", "Happy belated birthday, %s! Sorry for being a little late, hope it was a great one.")

	v.SetDefault("paths.users_file", "users_config.json")
	v.SetDefault("paths.ledger_file", "sent_greetings.json")
	v.SetDefault("paths.history_db", "history.db")
}
