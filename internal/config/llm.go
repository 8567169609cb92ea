package config

import "fmt"

// Model backend identifiers, as accepted by --model.
const (
	ProviderGemini = "gemini" // hosted Google Gemini API
	ProviderGemma  = "gemma"  // local model served through the ollama CLI
)

// ValidProviders lists all supported model backends.
var ValidProviders = []string{ProviderGemma, ProviderGemini}

// LLMConfig configures both model backends. Only the selected provider is used
// for a run, but both sections are kept so switching --model needs no edits.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemma, gemini
	APIKey   string `yaml:"api_key"`  // Gemini only; usually from GEMINI_API_KEY

	// Hosted backend
	GeminiModel   string `yaml:"gemini_model"`
	HostedTimeout string `yaml:"hosted_timeout"`

	// Local backend
	//
	// IMPORTANT: the local model is used as a SUBPROCESS API, one prompt per
	// process. Each call is bounded by the fixed local timeout; expiry fails
	// that call only.
	OllamaModel  string `yaml:"ollama_model"`
	OllamaBinary string `yaml:"ollama_binary"`
}

// Validate checks the provider selection and provider-specific requirements.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("Gemini API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
		}
	case ProviderGemma:
		if c.OllamaModel == "" {
			return fmt.Errorf("local model not configured (set llm.ollama_model or OLLAMA_MODEL)")
		}
	default:
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.Provider, ValidProviders)
	}
	return nil
}
