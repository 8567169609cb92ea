package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskwatch/internal/config"
	"deskwatch/internal/logging"

	"google.golang.org/genai"
)

// generator is the slice of the genai models service GeminiClient uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient calls the hosted Gemini API. There is no retry or backoff;
// each call is bounded by the configured timeout.
type GeminiClient struct {
	models  generator
	model   string
	timeout time.Duration
	log     *logging.Logger
}

// NewGeminiClient creates a hosted model client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, timeout time.Duration, log *logging.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiClient(client.Models, cfg.GeminiModel, timeout, log), nil
}

func newGeminiClient(models generator, model string, timeout time.Duration, log *logging.Logger) *GeminiClient {
	if model == "" {
		model = config.DefaultConfig().LLM.GeminiModel
	}
	if timeout <= 0 {
		timeout = config.DefaultLLMTimeouts().Hosted
	}
	return &GeminiClient{
		models:  models,
		model:   model,
		timeout: timeout,
		log:     log.For(logging.CategoryAPI),
	}
}

// Name identifies the backend.
func (c *GeminiClient) Name() string { return "gemini:" + c.model }

// Model returns the hosted model name.
func (c *GeminiClient) Model() string { return c.model }

// Generate sends one prompt and returns the response text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	c.log.Debug("gemini %s call finished in %v", c.model, time.Since(start))

	if err != nil {
		if ctxErr := contextError(ctx, "gemini", c.timeout); ctxErr != nil {
			return "", ctxErr
		}
		if isRateLimitError(err.Error()) {
			return "", &RateLimitError{Provider: "gemini", RawResponse: err.Error()}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}
