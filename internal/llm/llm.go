// Package llm wraps the optional language model providers used for expert
// classification. A nil Provider means no model is configured.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/aiteam/internal/config"
)

var (
	// ErrUnavailable reports a provider that could not be reached or failed.
	ErrUnavailable = errors.New("llm unavailable")
	// ErrTimeout reports a provider call that exceeded its deadline.
	ErrTimeout = errors.New("llm timeout")
)

const systemPrompt = "You are a helpful agile software assistant."

type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// classify maps a provider failure onto ErrTimeout or ErrUnavailable.
func classify(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", provider, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrUnavailable, err)
}

// Detect builds the provider selected by cfg. It returns nil when the LLM is
// disabled. With no explicit provider the order is anthropic, openai, ollama,
// and finally the echo provider.
func Detect(cfg config.LLMConfig) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model)
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.Model)
	case "ollama":
		return NewOllama(cfg.OllamaHost, cfg.OllamaModel)
	case "echo":
		return Echo{Prefix: "[echo] "}, nil
	case "":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	if cfg.AnthropicAPIKey != "" {
		p, err := NewAnthropic(cfg.AnthropicAPIKey, cfg.Model)
		if err == nil {
			return p, nil
		}
		slog.Warn("anthropic provider init failed", "error", err)
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := NewOpenAI(cfg.OpenAIAPIKey, cfg.Model)
		if err == nil {
			return p, nil
		}
		slog.Warn("openai provider init failed", "error", err)
	}
	if cfg.OllamaHost != "" {
		p, err := NewOllama(cfg.OllamaHost, cfg.OllamaModel)
		if err == nil {
			return p, nil
		}
		slog.Warn("ollama provider init failed", "error", err)
	}

	return Echo{Prefix: "[echo] "}, nil
}

// Echo returns the prompt unchanged. It keeps the classification path
// deterministic for local development.
type Echo struct {
	Prefix string
}

func (Echo) Name() string { return "echo" }

func (e Echo) Generate(_ context.Context, prompt string) (string, error) {
	slog.Debug("llm request", "provider", "echo", "prompt", prompt)
	return e.Prefix + prompt, nil
}
