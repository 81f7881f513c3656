package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Dispatcher delivers greeting messages to Telegram chats. Sends degrade
// gracefully: a photo message falls back to text only, and a Markdown send
// falls back to plain text, so formatting or media problems never lose the
// greeting itself.
type Dispatcher struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher on top of an existing bot instance.
func NewDispatcher(b *bot.Bot, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bot:    b,
		logger: logger.With("component", "dispatcher"),
	}
}

// SendGreeting delivers one greeting. When imagePath is set the greeting is
// sent as a photo caption; any photo failure falls back to a text send. The
// returned error is non-nil only when every delivery form failed.
func (d *Dispatcher) SendGreeting(ctx context.Context, chatID int64, text string, imagePath string) error {
	if imagePath != "" {
		if err := d.sendPhoto(ctx, chatID, text, imagePath); err == nil {
			return nil
		} else {
			d.logger.Warn("Photo send failed, falling back to text",
				"chat_id", chatID, "image", imagePath, "error", err)
		}
	}
	return d.sendText(ctx, chatID, text)
}

// sendText tries Markdown first so generated greetings keep their
// formatting, then retries without a parse mode since Telegram rejects the
// whole message on any entity parse error.
func (d *Dispatcher) sendText(ctx context.Context, chatID int64, text string) error {
	_, err := d.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err == nil {
		return nil
	}
	d.logger.Debug("Markdown send rejected, retrying as plain text", "chat_id", chatID, "error", err)

	_, err = d.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// sendPhoto applies the same Markdown-first policy to the caption: a parse
// error fails the whole upload, so on failure the photo is re-sent with a
// plain caption before the caller gives up on the photo form entirely.
func (d *Dispatcher) sendPhoto(ctx context.Context, chatID int64, caption string, imagePath string) error {
	if err := d.sendPhotoOnce(ctx, chatID, caption, imagePath, models.ParseModeMarkdown); err == nil {
		return nil
	} else {
		d.logger.Debug("Markdown photo send rejected, retrying with plain caption", "chat_id", chatID, "error", err)
	}
	return d.sendPhotoOnce(ctx, chatID, caption, imagePath, "")
}

func (d *Dispatcher) sendPhotoOnce(ctx context.Context, chatID int64, caption string, imagePath string, parseMode models.ParseMode) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	defer f.Close()

	_, err = d.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileUpload{Filename: filepath.Base(imagePath), Data: f},
		Caption:   caption,
		ParseMode: parseMode,
	})
	if err != nil {
		return fmt.Errorf("failed to send photo to chat %d: %w", chatID, err)
	}
	return nil
}
