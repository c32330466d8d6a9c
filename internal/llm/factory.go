package llm

import (
	"fmt"

	"companion/internal/config"
)

// NewFromConfig builds a ChatClient for the configured provider.
func NewFromConfig(cfg config.LLMConfig) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case "groq", "":
		gc := DefaultGroqConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			gc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		return NewGroqClientWithConfig(gc), nil

	case "anthropic":
		ac := DefaultAnthropicConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			ac.Model = cfg.Model
		}
		return NewAnthropicClientWithConfig(ac), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
