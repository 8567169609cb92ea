// Package llm provides the model-call capability both detector backends share:
// Generate(prompt) returns the model's text. The hosted backend talks to the
// Gemini API; the local backend runs one ollama subprocess per prompt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client is the one capability the detector and learning loop need from a model.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend in logs and the run journal.
	Name() string
}

// ErrTimeout marks a call that exceeded its deadline.
var ErrTimeout = errors.New("model call timed out")

// ErrEmptyResponse marks a call that returned no text.
var ErrEmptyResponse = errors.New("empty response from model")

// RateLimitError indicates the provider rejected the call for quota reasons.
// Callers can use errors.As to detect it.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// isRateLimitError checks if the error message indicates a rate limit.
func isRateLimitError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

// contextError converts a finished context into the error reported for the call.
func contextError(ctx context.Context, provider string, timeout time.Duration) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s timed out after %v: %w", provider, timeout, ErrTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s call canceled: %w", provider, ctx.Err())
	}
	return nil
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
