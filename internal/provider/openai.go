package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Default endpoints.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIProvider implements ProviderClient for OpenAI-compatible chat
// completion APIs, including OpenRouter.
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	config    *ProviderConfig
	model     string
	maxTokens int
}

// OpenAI API request/response structures
type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	// Temperature has no omitempty: zero must reach the endpoint.
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewOpenAIProvider creates a new OpenAI-compatible provider instance
func NewOpenAIProvider(config *ProviderConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api_key not found in provider config")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = OpenAIBaseURL
		if config.Name == "openrouter" {
			baseURL = OpenRouterBaseURL
		}
	}

	model := config.Model
	if model == "" {
		model = "gpt-4o-mini"
		if config.Name == "openrouter" {
			model = "openai/gpt-4o-mini"
		}
	}

	return &OpenAIProvider{
		apiKey:    config.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: config.timeout()},
		config:    config,
		model:     model,
		maxTokens: config.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if p.config.UserAgent != "" {
		h["User-Agent"] = p.config.UserAgent
	}
	if p.config.Name == "openrouter" {
		h["HTTP-Referer"] = "https://github.com/felixgeelhaar/pipemedic"
		h["X-Title"] = "pipemedic"
	}
	return h
}

// Generate implements ProviderClient.Generate
func (p *OpenAIProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	startTime := time.Now()

	var oaiResp openAIResponse
	if err := doJSON(ctx, p.client, p.config.Name, http.MethodPost, p.baseURL+"/chat/completions", p.headers(), p.buildRequest(req), &oaiResp); err != nil {
		return nil, err
	}

	// Extract content
	content := ""
	finishReason := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
		finishReason = oaiResp.Choices[0].FinishReason
	}

	return &GenerateResponse{
		Content:      content,
		TokensUsed:   oaiResp.Usage.TotalTokens,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		Model:        oaiResp.Model,
		Latency:      time.Since(startTime),
		FinishReason: finishReason,
		Provider:     p.config.Name,
	}, nil
}

// buildRequest constructs an OpenAI API request from our GenerateRequest
func (p *OpenAIProvider) buildRequest(req *GenerateRequest) *openAIRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	messages := []openAIMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openAIMessage{
		Role:    "user",
		Content: req.Prompt,
	})

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return &openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
}

// GetInfo implements ProviderClient.GetInfo
func (p *OpenAIProvider) GetInfo() *ProviderInfo {
	return &ProviderInfo{
		Name:        p.config.Name,
		Model:       p.model,
		BaseURL:     p.baseURL,
		Description: fmt.Sprintf("OpenAI-compatible chat completions: %s", p.baseURL),
	}
}

// IsAvailable implements ProviderClient.IsAvailable
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Health implements ProviderClient.Health
func (p *OpenAIProvider) Health(ctx context.Context) error {
	// Simple health check: try to list models
	return doJSON(ctx, p.client, p.config.Name, http.MethodGet, p.baseURL+"/models", p.headers(), nil, nil)
}

// Close implements ProviderClient.Close
func (p *OpenAIProvider) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
