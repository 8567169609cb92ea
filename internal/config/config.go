package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where deskwatch looks for its config file.
const DefaultConfigPath = ".deskwatch/config.yaml"

// Config holds all deskwatch configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model backends
	LLM LLMConfig `yaml:"llm"`

	// Rule documents
	Rules RulesConfig `yaml:"rules"`

	// OCR collaborator
	OCR OCRConfig `yaml:"ocr"`

	// Learning loop
	Learning LearningConfig `yaml:"learning"`

	// Run journal (SQLite)
	Journal JournalConfig `yaml:"journal"`

	// Folder watch mode
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RulesConfig configures the layered rule store.
type RulesConfig struct {
	// Dir is the root holding baseline.json and <role>/ subdirectories.
	Dir string `yaml:"dir"`
}

// OCRConfig configures text extraction.
type OCRConfig struct {
	Languages    []string `yaml:"languages"`
	PreProcessor string   `yaml:"pre_processor"` // thresh, blur
}

// LearningConfig configures the rule learning loop.
type LearningConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JournalConfig configures the run journal.
type JournalConfig struct {
	// Path to the SQLite file. Empty disables the journal.
	Path string `yaml:"path"`
}

// WatchConfig configures folder watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deskwatch",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:      ProviderGemma,
			GeminiModel:   "gemini-2.0-flash-lite",
			OllamaModel:   "gemma3:4b",
			OllamaBinary:  "ollama",
			HostedTimeout: "120s",
		},

		Rules: RulesConfig{
			Dir: "rules",
		},

		OCR: OCRConfig{
			Languages:    []string{"eng"},
			PreProcessor: "thresh",
		},

		Learning: LearningConfig{
			Enabled: true,
		},

		Watch: WatchConfig{
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// GEMINI_API_KEY wins when both are set.
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.LLM.OllamaModel = model
	}

	if dir := os.Getenv("DESKWATCH_RULES_DIR"); dir != "" {
		c.Rules.Dir = dir
	}
	if path := os.Getenv("DESKWATCH_JOURNAL"); path != "" {
		c.Journal.Path = path
	}
}

// GetHostedTimeout returns the hosted model call timeout as a duration.
func (c *Config) GetHostedTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.HostedTimeout)
	if err != nil || d <= 0 {
		return DefaultLLMTimeouts().Hosted
	}
	return d
}

// GetLocalTimeout returns the local model process timeout. It is fixed and
// not read from the config file.
func (c *Config) GetLocalTimeout() time.Duration {
	return DefaultLLMTimeouts().Local
}

// GetWatchDebounce returns the watch debounce window as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// ValidPreProcessors lists the OCR preprocessing modes.
var ValidPreProcessors = []string{"thresh", "blur"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}

	valid := false
	for _, p := range ValidPreProcessors {
		if c.OCR.PreProcessor == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid OCR pre-processor: %s (valid: %v)", c.OCR.PreProcessor, ValidPreProcessors)
	}

	if c.Rules.Dir == "" {
		return fmt.Errorf("rules directory not configured")
	}

	return nil
}
