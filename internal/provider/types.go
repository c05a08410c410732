package provider

import "time"

// GenerateRequest contains all parameters for generating a response
type GenerateRequest struct {
	// Prompt is the main input text for the model
	Prompt string `json:"prompt"`

	// SystemPrompt sets the system-level instructions
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Model overrides the provider's default model
	Model string `json:"model,omitempty"`

	// MaxTokens limits the maximum response length.
	// Set to 0 to use the provider default
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. It is always sent, so 0 means
	// deterministic sampling rather than "provider default".
	Temperature float64 `json:"temperature"`

	// Metadata for tracking and debugging; never sent to the endpoint
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GenerateResponse contains the model's response
type GenerateResponse struct {
	// Content is the generated text
	Content string `json:"content"`

	// TokensUsed is the total tokens consumed (input + output)
	TokensUsed int `json:"tokens_used"`

	// InputTokens is tokens in the prompt
	InputTokens int `json:"input_tokens,omitempty"`

	// OutputTokens is tokens in the response
	OutputTokens int `json:"output_tokens,omitempty"`

	// Model is the actual model that generated the response
	Model string `json:"model"`

	// Latency is how long the generation took
	Latency time.Duration `json:"latency"`

	// FinishReason explains why generation stopped
	// Common values: "stop" (natural end), "length" (max tokens)
	FinishReason string `json:"finish_reason"`

	// Provider is the name of the provider that handled this request
	Provider string `json:"provider"`

	// Cached is set when the response came from the response cache
	Cached bool `json:"cached,omitempty"`
}

// ProviderConfig configures one provider client.
type ProviderConfig struct {
	// Name selects the implementation: openai, openrouter or anthropic
	Name string `yaml:"name" json:"name"`

	APIKey    string        `yaml:"-" json:"-"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Model     string        `yaml:"model" json:"model"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`

	// UserAgent is sent on every request
	UserAgent string `yaml:"-" json:"-"`

	// RateLimitPerMinute caps outgoing calls; 0 disables limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`

	CacheEnabled bool          `yaml:"cache_enabled" json:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheSize    int           `yaml:"cache_size" json:"cache_size"`
}

func (c *ProviderConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}
