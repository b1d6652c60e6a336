package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain adapts a langchaingo model (OpenAI or Ollama) to Provider.
type LangChain struct {
	name  string
	model llms.Model
}

func NewOpenAI(apiKey, model string) (*LangChain, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	m, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &LangChain{name: "openai", model: m}, nil
}

func NewOllama(host, model string) (*LangChain, error) {
	if host == "" {
		return nil, fmt.Errorf("ollama host is not set")
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	m, err := ollama.New(ollama.WithServerURL(strings.TrimRight(host, "/")), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &LangChain{name: "ollama", model: m}, nil
}

func (l *LangChain) Name() string { return l.name }

func (l *LangChain) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("llm request", "provider", l.name)
	out, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt,
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(300),
	)
	if err != nil {
		return "", classify(ctx, l.name, err)
	}
	text := strings.TrimSpace(out)
	slog.Debug("llm response", "provider", l.name, "response", text)
	return text, nil
}
