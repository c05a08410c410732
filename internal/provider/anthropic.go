package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicBaseURL is the default Messages API endpoint root.
const AnthropicBaseURL = "https://api.anthropic.com/v1"

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements the ProviderClient interface for Anthropic Claude API
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	config    *ProviderConfig
	model     string
	maxTokens int
}

// Anthropic API request/response structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason,omitempty"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config *ProviderConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api_key not found in provider config")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = AnthropicBaseURL
	}

	model := config.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	// The Messages API requires max_tokens.
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicProvider{
		apiKey:    config.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: config.timeout()},
		config:    config,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (p *AnthropicProvider) headers() map[string]string {
	h := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if p.config.UserAgent != "" {
		h["User-Agent"] = p.config.UserAgent
	}
	return h
}

// Generate implements ProviderClient.Generate
func (p *AnthropicProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	startTime := time.Now()

	var anthropicResp anthropicResponse
	if err := doJSON(ctx, p.client, "anthropic", http.MethodPost, p.baseURL+"/messages", p.headers(), p.buildRequest(req), &anthropicResp); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, c := range anthropicResp.Content {
		if c.Type == "text" {
			content.WriteString(c.Text)
		}
	}

	return &GenerateResponse{
		Content:      content.String(),
		TokensUsed:   anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		InputTokens:  anthropicResp.Usage.InputTokens,
		OutputTokens: anthropicResp.Usage.OutputTokens,
		Model:        anthropicResp.Model,
		Latency:      time.Since(startTime),
		FinishReason: anthropicResp.StopReason,
		Provider:     "anthropic",
	}, nil
}

// buildRequest constructs an Anthropic API request from our GenerateRequest
func (p *AnthropicProvider) buildRequest(req *GenerateRequest) *anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return &anthropicRequest{
		Model: model,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
		System:      req.SystemPrompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}

// GetInfo implements ProviderClient.GetInfo
func (p *AnthropicProvider) GetInfo() *ProviderInfo {
	return &ProviderInfo{
		Name:        "anthropic",
		Model:       p.model,
		BaseURL:     p.baseURL,
		Description: "Anthropic Messages API",
	}
}

// IsAvailable implements ProviderClient.IsAvailable
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Health implements ProviderClient.Health
func (p *AnthropicProvider) Health(ctx context.Context) error {
	return doJSON(ctx, p.client, "anthropic", http.MethodGet, p.baseURL+"/models", p.headers(), nil, nil)
}

// Close implements ProviderClient.Close
func (p *AnthropicProvider) Close() error {
	return nil
}
