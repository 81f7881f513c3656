// Package greeting generates personalized birthday greeting texts with
// Google's Gemini API. Every recipient gets a freshly generated message;
// callers fall back to a canned greeting when generation fails, so errors
// here never block delivery.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultPrompt = "Write a short, warm, and cheerful birthday greeting for {name}. " +
		"Keep it to two or three sentences, mention their name, and avoid emoji overload."

	defaultBelatedPrompt = "Write a short, warm belated birthday greeting for {name}, " +
		"apologizing lightly for being late. Keep it to two or three sentences."
)

// Config carries the Gemini credentials and generation settings.
type Config struct {
	APIKey            string
	ModelName         string
	Temperature       float32
	MaxRetries        int
	RetryDelaySeconds int

	// Optional prompt template files. Templates use {name} as the
	// recipient placeholder; built-in templates are used when unset or
	// unreadable.
	PromptPath        string
	BelatedPromptPath string
}

// Client generates greeting texts.
type Client interface {
	Greeting(ctx context.Context, name string, belated bool) (string, error)
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration

	prompt        string
	belatedPrompt string
}

// NewClient creates a Gemini-backed greeting generator.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	logger := log.With("component", "greeting")

	contentConfig := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
	}

	logger.Info("Greeting client initialized", "model", cfg.ModelName)
	return &sdkClient{
		genaiClient:   gi,
		log:           logger,
		contentConfig: contentConfig,
		modelName:     cfg.ModelName,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
		prompt:        loadPrompt(cfg.PromptPath, defaultPrompt, logger),
		belatedPrompt: loadPrompt(cfg.BelatedPromptPath, defaultBelatedPrompt, logger),
	}, nil
}

// Greeting generates a birthday message for the named recipient.
func (c *sdkClient) Greeting(ctx context.Context, name string, belated bool) (string, error) {
	template := c.prompt
	if belated {
		template = c.belatedPrompt
	}
	prompt := renderPrompt(template, name)

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, contents)
	if err != nil {
		c.log.ErrorContext(ctx, "Greeting generation failed", "name", name, "error", err)
		return "", fmt.Errorf("greeting generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("greeting generation returned empty text")
	}
	return text, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call", "delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return nil, err
}

// renderPrompt substitutes the {name} placeholder. Templates without the
// placeholder get the name appended so the model always knows the recipient.
func renderPrompt(template, name string) string {
	if strings.Contains(template, "{name}") {
		return strings.ReplaceAll(template, "{name}", name)
	}
	return template + "\n\nThe recipient's name is " + name + "."
}

func loadPrompt(path, fallback string, log *slog.Logger) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Prompt file not readable, using built-in template", "path", path, "error", err)
		return fallback
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Warn("Prompt file is empty, using built-in template", "path", path)
		return fallback
	}
	return text
}
