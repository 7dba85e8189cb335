// Package llm provides a pluggable interface for LLM providers.
package llm

import (
	"context"
	"fmt"

	"github.com/multaszero/recurso/internal/config"
)

// CompletionOptions contains options for completion requests.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	Model       string
}

// DefaultCompletionOptions returns sensible defaults.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		MaxTokens:   2048,
		Temperature: 0.0,
	}
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// CompleteWithSystem generates a completion with a system prompt.
	CompleteWithSystem(ctx context.Context, system, user string, opts CompletionOptions) (string, error)

	// CompleteWithImage generates a completion for a prompt about a
	// base64-encoded JPEG image.
	CompleteWithImage(ctx context.Context, system, user, imageBase64 string, opts CompletionOptions) (string, error)

	// Name returns the provider name.
	Name() string

	// SupportsVision returns whether this provider accepts image input.
	SupportsVision() bool
}

// NewProvider creates a new LLM provider based on configuration.
func NewProvider(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "gemini":
		return NewGeminiProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
