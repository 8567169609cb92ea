package config

import "time"

// LLMTimeouts centralizes the per-call timeouts for both model backends.
//
// KEY INSIGHT: In Go, the SHORTEST timeout in the chain wins.
// A caller context with an earlier deadline cuts a call short regardless of
// these values; these only bound a call when the caller imposes nothing tighter.
type LLMTimeouts struct {
	// Hosted bounds one Gemini GenerateContent round-trip.
	Hosted time.Duration `json:"hosted"`

	// Local bounds one `ollama run` subprocess, from spawn to exit. Not configurable.
	Local time.Duration `json:"local"`
}

// DefaultLLMTimeouts returns the canonical timeouts.
func DefaultLLMTimeouts() LLMTimeouts {
	return LLMTimeouts{
		Hosted: 120 * time.Second,
		Local:  60 * time.Second,
	}
}
