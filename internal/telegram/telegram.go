// Package telegram wraps the go-telegram/bot library: bot construction and
// the greeting dispatcher that delivers messages to chats.
package telegram

import (
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
)

// NewTelegramBot creates a Telegram bot instance using the go-telegram/bot
// library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully")
	return b, nil
}
