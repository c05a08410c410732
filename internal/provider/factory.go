package provider

import (
	"fmt"

	"github.com/felixgeelhaar/pipemedic/internal/config"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// Names lists the provider implementations New can build.
var Names = []string{"openrouter", "openai", "anthropic"}

// New builds the named provider and applies the configured decorators.
// Caching wraps rate limiting so cache hits never wait on the limiter.
func New(cfg ProviderConfig) (ProviderClient, error) {
	var (
		client ProviderClient
		err    error
	)
	switch cfg.Name {
	case "openai", "openrouter":
		client, err = NewOpenAIProvider(&cfg)
	case "anthropic":
		client, err = NewAnthropicProvider(&cfg)
	case "", "none":
		return nil, errors.New(errors.ErrCodeProviderConfig, "no provider configured").
			WithSuggestion("Set ai.provider to one of openrouter, openai or anthropic")
	default:
		return nil, errors.New(errors.ErrCodeProviderNotFound, fmt.Sprintf("unknown provider %q", cfg.Name)).
			WithSuggestion(fmt.Sprintf("Supported providers: %v", Names))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderConfig, fmt.Sprintf("configure provider %s", cfg.Name), err).
			WithSuggestion("Set PIPEMEDIC_AI_API_KEY or the provider's own API key variable")
	}

	client = NewRateLimited(client, cfg.RateLimitPerMinute)
	if cfg.CacheEnabled {
		client = NewCached(client, cfg.CacheSize, cfg.CacheTTL)
	}
	return client, nil
}

// FromAIConfig converts the ai section of the application config.
func FromAIConfig(ai config.AIConfig, userAgent string) ProviderConfig {
	return ProviderConfig{
		Name:               ai.Provider,
		APIKey:             ai.APIKey,
		BaseURL:            ai.BaseURL,
		Model:              ai.Model,
		MaxTokens:          ai.MaxTokens,
		Timeout:            ai.Timeout,
		UserAgent:          userAgent,
		RateLimitPerMinute: ai.RateLimitPerMinute,
		CacheEnabled:       ai.CacheEnabled,
		CacheTTL:           ai.CacheTTL,
		CacheSize:          ai.CacheSize,
	}
}
