package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"deskwatch/internal/config"
	"deskwatch/internal/logging"
)

// OllamaClient runs `ollama run <model>` once per prompt, writing the prompt
// to stdin and returning stdout.
type OllamaClient struct {
	binary  string
	model   string
	timeout time.Duration
	log     *logging.Logger
}

// NewOllamaClient creates a local model client. Empty fields fall back to
// the config defaults (binary "ollama", model "gemma3:4b", 60s).
func NewOllamaClient(cfg config.LLMConfig, timeout time.Duration, log *logging.Logger) *OllamaClient {
	defaults := config.DefaultConfig().LLM
	c := &OllamaClient{
		binary:  cfg.OllamaBinary,
		model:   cfg.OllamaModel,
		timeout: timeout,
		log:     log.For(logging.CategoryAPI),
	}
	if c.binary == "" {
		c.binary = defaults.OllamaBinary
	}
	if c.model == "" {
		c.model = defaults.OllamaModel
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultLLMTimeouts().Local
	}
	return c
}

// Name identifies the backend.
func (c *OllamaClient) Name() string { return "ollama:" + c.model }

// Model returns the local model identifier.
func (c *OllamaClient) Model() string { return c.model }

// Timeout returns the per-call process timeout.
func (c *OllamaClient) Timeout() time.Duration { return c.timeout }

// Generate runs one model process. Expiry of the timeout kills the process
// and fails only this call.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "run", c.model)
	cmd.Stdin = strings.NewReader(prompt)
	// Bound the wait for output pipes if the model process leaves children behind.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.log.Debug("ollama run %s finished in %v (%d bytes out)", c.model, time.Since(start), stdout.Len())

	if err != nil {
		if ctxErr := contextError(ctx, "ollama", c.timeout); ctxErr != nil {
			return "", ctxErr
		}

		stderrStr := strings.TrimSpace(stderr.String())
		if isRateLimitError(stderrStr) {
			return "", &RateLimitError{Provider: "ollama", RawResponse: stderrStr}
		}
		return "", fmt.Errorf("ollama execution failed: %w (stderr: %s)", err, truncateString(stderrStr, 500))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return out, nil
}
