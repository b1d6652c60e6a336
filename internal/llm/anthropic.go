package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}
	m := anthropic.Model(model)
	if m == "" {
		m = anthropic.ModelClaudeHaiku4_5_20251001
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("llm request", "provider", "anthropic", "model", a.model)
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(0.2),
	})
	if err != nil {
		return "", classify(ctx, "anthropic", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	slog.Debug("llm response", "provider", "anthropic", "response", text)
	return text, nil
}
