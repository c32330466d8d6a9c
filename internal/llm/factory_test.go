package llm

import "companion/internal/config"

func testLLMConfig(apiKey, provider string) config.LLMConfig {
	return config.LLMConfig{
		Provider: provider,
		APIKey:   apiKey,
	}
}
