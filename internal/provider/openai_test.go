package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

func TestNewOpenAIProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      *ProviderConfig
		wantErr     bool
		wantBaseURL string
		wantModel   string
	}{
		{
			name:        "openai defaults",
			config:      &ProviderConfig{Name: "openai", APIKey: "test-key"},
			wantBaseURL: OpenAIBaseURL,
			wantModel:   "gpt-4o-mini",
		},
		{
			name:        "openrouter defaults",
			config:      &ProviderConfig{Name: "openrouter", APIKey: "test-key"},
			wantBaseURL: OpenRouterBaseURL,
			wantModel:   "openai/gpt-4o-mini",
		},
		{
			name:        "explicit base_url trims slash",
			config:      &ProviderConfig{Name: "openai", APIKey: "test-key", BaseURL: "http://localhost:8080/v1/", Model: "m"},
			wantBaseURL: "http://localhost:8080/v1",
			wantModel:   "m",
		},
		{
			name:    "missing api_key",
			config:  &ProviderConfig{Name: "openai"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewOpenAIProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewOpenAIProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			info := provider.GetInfo()
			if info.BaseURL != tt.wantBaseURL {
				t.Errorf("BaseURL = %s, want %s", info.BaseURL, tt.wantBaseURL)
			}
			if info.Model != tt.wantModel {
				t.Errorf("Model = %s, want %s", info.Model, tt.wantModel)
			}
		})
	}
}

func TestOpenAIProvider_Generate(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("User-Agent") != "pipemedic/test" {
			t.Errorf("unexpected user agent: %s", r.Header.Get("User-Agent"))
		}

		body, _ := io.ReadAll(r.Body)
		// temperature 0 must be on the wire, not omitted
		if !strings.Contains(string(body), `"temperature":0`) {
			t.Errorf("request body missing zero temperature: %s", body)
		}

		var req openAIRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		if req.MaxTokens != 100 {
			t.Errorf("unexpected max tokens: %d", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		resp := openAIResponse{
			ID:      "chatcmpl-123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   "gpt-4o-mini",
			Choices: []openAIChoice{
				{
					Index:        0,
					Message:      openAIMessage{Role: "assistant", Content: "version: \"1\""},
					FinishReason: "stop",
				},
			},
			Usage: openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))

	provider, err := NewOpenAIProvider(&ProviderConfig{
		Name:      "openai",
		APIKey:    "test-key",
		BaseURL:   server.URL,
		UserAgent: "pipemedic/test",
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	resp, err := provider.Generate(context.Background(), &GenerateRequest{
		Prompt:      "fix the pipeline",
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if resp.Content != "version: \"1\"" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if resp.TokensUsed != 15 || resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model: %s", resp.Model)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %s", resp.FinishReason)
	}
	if resp.Provider != "openai" {
		t.Errorf("unexpected provider: %s", resp.Provider)
	}
}

func TestOpenAIProvider_Generate_OpenRouterHeaders(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Title") != "pipemedic" {
			t.Errorf("missing X-Title header")
		}
		if r.Header.Get("HTTP-Referer") == "" {
			t.Errorf("missing HTTP-Referer header")
		}

		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) < 2 || req.Messages[0].Role != "system" || req.Messages[0].Content != "You repair pipelines." {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(openAIResponse{
			Model:   "openai/gpt-4o-mini",
			Choices: []openAIChoice{{Message: openAIMessage{Content: "OK"}}},
			Usage:   openAIUsage{TotalTokens: 10},
		})
	}))

	provider, err := NewOpenAIProvider(&ProviderConfig{Name: "openrouter", APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}

	resp, err := provider.Generate(context.Background(), &GenerateRequest{
		Prompt:       "Hello",
		SystemPrompt: "You repair pipelines.",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Provider != "openrouter" {
		t.Errorf("unexpected provider: %s", resp.Provider)
	}
}

func TestOpenAIProvider_Generate_Error(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		retryAfter string
		response   string
		wantCode   errors.ErrorCode
		wantErr    string
	}{
		{
			name:       "http 401 unauthorized",
			statusCode: http.StatusUnauthorized,
			response:   `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`,
			wantCode:   errors.ErrCodeProviderAuth,
			wantErr:    "Invalid API key",
		},
		{
			name:       "http 429 rate limit",
			statusCode: http.StatusTooManyRequests,
			retryAfter: "20",
			response:   `{"error":{"message":"Rate limit exceeded","type":"rate_limit_error"}}`,
			wantCode:   errors.ErrCodeProviderRateLimit,
			wantErr:    "retry after: 20",
		},
		{
			name:       "http 500 server error",
			statusCode: http.StatusInternalServerError,
			response:   "Internal server error",
			wantCode:   errors.ErrCodeProviderNetwork,
			wantErr:    "http 500",
		},
		{
			name:       "http 400 bad request",
			statusCode: http.StatusBadRequest,
			response:   `{"error":{"message":"context length exceeded"}}`,
			wantCode:   errors.ErrCodeProviderAPI,
			wantErr:    "context length exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.response))
			}))

			provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "test-key", BaseURL: server.URL})

			_, err := provider.Generate(context.Background(), &GenerateRequest{Prompt: "test"})
			if err == nil {
				t.Fatal("Generate() expected error, got nil")
			}
			if code := errors.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Generate() error = %v, want substring %s", err, tt.wantErr)
			}
		})
	}
}

func TestOpenAIProvider_Generate_Unreachable(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "k", BaseURL: url, Timeout: time.Second})
	_, err := provider.Generate(context.Background(), &GenerateRequest{Prompt: "x"})
	if !errors.Is(err, errors.ErrCodeProviderNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "k"})
	if !provider.IsAvailable() {
		t.Error("IsAvailable() = false with an api key")
	}
}

func TestOpenAIProvider_Health(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))

	provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "test-key", BaseURL: server.URL})
	if err := provider.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestOpenAIProvider_Health_Error(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "bad", BaseURL: server.URL})
	err := provider.Health(context.Background())
	if !errors.Is(err, errors.ErrCodeProviderAuth) {
		t.Errorf("Health() error = %v, want auth error", err)
	}
}

func TestOpenAIProvider_Close(t *testing.T) {
	provider, _ := NewOpenAIProvider(&ProviderConfig{Name: "openai", APIKey: "k"})
	if err := provider.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
