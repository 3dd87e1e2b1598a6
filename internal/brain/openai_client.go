package brain

import (
	"context"
	"fmt"
	"log/slog"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"

	"github.com/sashabaranov/go-openai"
)

type OpenAIBrain struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ ports.Brain = (*OpenAIBrain)(nil)

// NewOpenAIBrain builds a chat-completion brain. baseURL may be empty.
func NewOpenAIBrain(apiKey, model, baseURL string, logger *slog.Logger) (*OpenAIBrain, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	logger.Info("initializing OpenAI brain", "model", model)
	return &OpenAIBrain{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

func (o *OpenAIBrain) Generate(ctx context.Context, systemPrompt, userPrompt string, history []string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: ComposeUserPrompt(userPrompt, history)},
		},
		MaxTokens:   300,
		Temperature: 0.7,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("AI generation failed", "model", o.model, "error", err)
		return "", fmt.Errorf("%w: openai: %v", domain.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", domain.ErrGenerationFailed)
	}

	text := Truncate(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: openai returned empty content", domain.ErrGenerationFailed)
	}
	o.logger.Debug("received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return text, nil
}
