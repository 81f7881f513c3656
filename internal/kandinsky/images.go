package kandinsky

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"birthdaybot/internal/jobpoll"
)

// GenerateBirthdayImage renders a greeting image for the named recipient
// and returns the path of the saved PNG. Any non-success outcome, whether a
// submit failure, a backend failure, a timeout, or poll exhaustion, returns
// an empty path with a nil error: the image is enrichment, and its absence
// must never block the greeting text.
func (c *Client) GenerateBirthdayImage(ctx context.Context, name string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nGreeting card for %s's birthday.", c.imagePrompt(), name)
	c.logger.Info("Generating birthday image", "name", name)

	outcome := jobpoll.Run(ctx,
		func(ctx context.Context) (string, error) { return c.submit(ctx, prompt) },
		c.checkStatus,
		jobpoll.Options{
			Interval:    c.cfg.PollInterval,
			MaxAttempts: c.cfg.MaxPollAttempts,
			Timeout:     c.cfg.JobTimeout,
			Logger:      c.logger,
		},
	)

	if outcome.State != jobpoll.StateDone {
		c.logger.Warn("Image generation did not complete",
			"name", name, "state", outcome.State.String(), "error", outcome.Err)
		return "", nil
	}

	path, err := c.saveImage(outcome.Payload, name)
	if err != nil {
		c.logger.Warn("Failed to save generated image", "name", name, "error", err)
		return "", nil
	}

	c.logger.Info("Birthday image generated", "name", name, "path", path)
	return path, nil
}

// saveImage decodes the base64 payload into a timestamped PNG file.
func (c *Client) saveImage(payload, name string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode image payload: %w", err)
	}

	filename := sanitizeFilename(fmt.Sprintf("birthday_%s_%d.png", name, time.Now().Unix()))
	path := filepath.Join(c.cfg.ImagesDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return path, nil
}

func (c *Client) imagePrompt() string {
	if c.cfg.PromptPath == "" {
		return defaultImagePrompt
	}
	data, err := os.ReadFile(c.cfg.PromptPath)
	if err != nil {
		c.logger.Warn("Image prompt file not readable, using default", "path", c.cfg.PromptPath, "error", err)
		return defaultImagePrompt
	}
	return strings.TrimSpace(string(data))
}

// sanitizeFilename keeps letters, digits, and a small safe set so recipient
// names cannot smuggle path elements into the images directory.
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CleanupOldImages deletes generated PNGs older than maxAge. Run as
// shutdown housekeeping; errors are logged, not returned, since stale
// images are harmless.
func (c *Client) CleanupOldImages(maxAge time.Duration) {
	entries, err := os.ReadDir(c.cfg.ImagesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to read images directory for cleanup", "error", err)
		}
		return
	}

	deleted := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.cfg.ImagesDir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Failed to delete old image", "path", path, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		c.logger.Info("Cleaned up old generated images", "deleted", deleted)
	}
}
