package provider

import (
	"context"
)

// ProviderClient is the generation capability used by the repair agent.
// Implementations must be safe for sequential reuse; tests substitute a
// deterministic GenerateFunc.
type ProviderClient interface {
	// Generate sends a prompt and returns a complete response.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// GetInfo returns metadata about the provider.
	GetInfo() *ProviderInfo

	// IsAvailable reports whether the provider has what it needs to be called.
	IsAvailable() bool

	// Health performs a lightweight request against the endpoint.
	// Returns nil if healthy, a coded provider error otherwise.
	Health(ctx context.Context) error

	// Close cleans up any resources used by the provider.
	Close() error
}

// ProviderInfo contains metadata about a provider
type ProviderInfo struct {
	// Name is the provider identifier (e.g., "openai", "openrouter")
	Name string `json:"name"`

	// Model is the default model identifier
	Model string `json:"model"`

	// BaseURL is the endpoint root
	BaseURL string `json:"base_url,omitempty"`

	// Description is a human-readable description of the provider
	Description string `json:"description,omitempty"`
}

// GenerateFunc adapts a function to ProviderClient.
type GenerateFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

func (f GenerateFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

func (f GenerateFunc) GetInfo() *ProviderInfo {
	return &ProviderInfo{Name: "func", Model: "static", Description: "in-process generator"}
}

func (f GenerateFunc) IsAvailable() bool { return f != nil }

func (f GenerateFunc) Health(context.Context) error { return nil }

func (f GenerateFunc) Close() error { return nil }
