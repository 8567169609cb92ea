package llm

import (
	"context"
	"fmt"

	"deskwatch/internal/config"
	"deskwatch/internal/logging"
)

// NewFromConfig constructs the backend selected by cfg.LLM.Provider.
// This is the only place backend choice happens.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *logging.Logger) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.LLM, cfg.GetHostedTimeout(), log)
	case config.ProviderGemma, "":
		return NewOllamaClient(cfg.LLM, cfg.GetLocalTimeout(), log), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q (valid: %v)", cfg.LLM.Provider, config.ValidProviders)
	}
}
