package ai

import (
	"context"
	"fmt"

	"query-sphere/internal/config"
	"query-sphere/internal/telemetry"
)

// LLMRequest is one completion call.
type LLMRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// Completion is the generated text plus the token count reported by the
// provider, or an estimate when it reports none.
type Completion struct {
	Text   string
	Tokens int
}

// LLMClient generates a completion for a prompt.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (*Completion, error)
	Model() string
	Close() error
}

// NewLLMClient builds the configured provider behind the circuit breaker,
// rate limiter and timeout guard.
func NewLLMClient(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*GuardedLLM, error) {
	var (
		inner LLMClient
		err   error
	)

	switch cfg.LLMProvider {
	case "groq":
		inner, err = NewOpenAICompatibleLLM(cfg.LLMEndpoint(), cfg.GroqAPIKey, cfg.LLMModel)
	case "openai":
		inner, err = NewOpenAICompatibleLLM(cfg.LLMEndpoint(), cfg.OpenAIAPIKey, cfg.LLMModel)
	case "gemini":
		inner, err = NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	case "ollama":
		inner, err = NewOllamaLLM(cfg.OllamaHost, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}
	if err != nil {
		return nil, err
	}

	return NewGuardedLLM(inner, GuardSettings{
		Name:              cfg.LLMProvider,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMin,
	}, metrics), nil
}

// estimateTokens uses the rough 1 token per 4 characters rule.
func estimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return max(n/4, 1)
}
