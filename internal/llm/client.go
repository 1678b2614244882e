// Package llm adapts chat completion providers to the narrow shape the
// assistant needs for rewording its questions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Message roles accepted by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational message sent to a provider.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single, non-streaming completion.
type CompletionRequest struct {
	// Model overrides the provider default when set.
	Model string
	// System carries standing instructions, separate from the messages.
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse holds the generated text and usage.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	Latency    time.Duration
}

// Client completes prompts against one provider.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// Provider names a completion backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("llm: completion contained no text")

const defaultMaxTokens = 256

// Config selects and configures a provider.
type Config struct {
	Provider Provider
	APIKey   string
	// BaseURL points the client at a proxy or test server.
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates the client for cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
