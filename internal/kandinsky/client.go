// Package kandinsky integrates the Fusion Brain image generation API as an
// optional greeting enrichment. Generation is a long-running remote job:
// the client submits a render, then polls its status through the jobpoll
// tracker until the image is ready or a retry budget runs out. Nothing in
// this package is load-bearing for delivery; every failure path collapses
// to "no image".
package kandinsky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"birthdaybot/internal/jobpoll"
)

const defaultImagePrompt = "A bright festive birthday greeting card, colorful balloons, confetti, warm light"

// Config carries the Fusion Brain credentials and generation settings.
type Config struct {
	BaseURL         string
	APIKey          string
	SecretKey       string
	ImagesDir       string
	PromptPath      string
	Width           int
	Height          int
	PollInterval    time.Duration
	MaxPollAttempts int
	JobTimeout      time.Duration
}

// Client talks to the Fusion Brain pipeline API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	// pipelineID caches the discovered pipeline; empty until first use.
	pipelineID string
}

// NewClient creates a Fusion Brain client. Both keys are required; callers
// that have no keys should not construct a client at all (image generation
// is then disabled).
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("kandinsky api key and secret key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 1024
	}

	if err := os.MkdirAll(cfg.ImagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "kandinsky"),
	}, nil
}

func (c *Client) authHeaders(req *http.Request) {
	req.Header.Set("X-Key", "Key "+c.cfg.APIKey)
	req.Header.Set("X-Secret", "Secret "+c.cfg.SecretKey)
}

// pipeline returns the id of the first available generation pipeline,
// discovering and caching it on first use.
func (c *Client) pipeline(ctx context.Context) (string, error) {
	if c.pipelineID != "" {
		return c.pipelineID, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"key/api/v1/pipelines", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build pipelines request: %w", err)
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pipelines request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pipelines request returned %d: %s", resp.StatusCode, body)
	}

	var pipelines []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pipelines); err != nil {
		return "", fmt.Errorf("failed to decode pipelines response: %w", err)
	}
	if len(pipelines) == 0 {
		return "", fmt.Errorf("no generation pipelines available")
	}

	c.pipelineID = pipelines[0].ID
	c.logger.Info("Using generation pipeline", "pipeline_id", c.pipelineID)
	return c.pipelineID, nil
}

// submit issues a generation request and returns the job uuid.
func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	pipelineID, err := c.pipeline(ctx)
	if err != nil {
		return "", err
	}

	params := map[string]any{
		"type":      "GENERATE",
		"numImages": 1,
		"width":     c.cfg.Width,
		"height":    c.cfg.Height,
		"generateParams": map[string]string{
			"query": prompt,
		},
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation params: %w", err)
	}

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("pipeline_id", pipelineID); err != nil {
		return "", fmt.Errorf("failed to write pipeline_id field: %w", err)
	}
	// The params part must carry an explicit application/json content type.
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="params"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create params part: %w", err)
	}
	if _, err := part.Write(paramsJSON); err != nil {
		return "", fmt.Errorf("failed to write params part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"key/api/v1/pipeline/run", strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("failed to build run request: %w", err)
	}
	c.authHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("run request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("run request returned %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode run response: %w", err)
	}
	if result.UUID == "" {
		return "", fmt.Errorf("run response carries no uuid")
	}

	c.logger.Debug("Generation job submitted", "uuid", result.UUID)
	return result.UUID, nil
}

// checkStatus polls one generation job. The payload of a done status is the
// base64-encoded image.
func (c *Client) checkStatus(ctx context.Context, uuid string) (jobpoll.Status[string], error) {
	var zero jobpoll.Status[string]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"key/api/v1/pipeline/status/"+uuid, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to build status request: %w", err)
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, fmt.Errorf("status request returned %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Status string `json:"status"`
		Result struct {
			Files []string `json:"files"`
		} `json:"result"`
		ErrorDescription string `json:"errorDescription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch result.Status {
	case "DONE":
		if len(result.Result.Files) == 0 {
			return jobpoll.StatusFailed[string]("done status carries no files"), nil
		}
		return jobpoll.StatusDone(result.Result.Files[0]), nil
	case "FAIL":
		reason := result.ErrorDescription
		if reason == "" {
			reason = "generation failed"
		}
		return jobpoll.StatusFailed[string](reason), nil
	case "INITIAL", "PROCESSING":
		return jobpoll.StatusPending[string](), nil
	default:
		return zero, fmt.Errorf("unknown generation status %q", result.Status)
	}
}
