package conversation

import (
	"context"
	"fmt"

	"github.com/creastat/hotline"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultTemperature keeps replies steady and predictable.
const DefaultTemperature = 0.2

// LLMConfig configures an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// LLMCompleter implements Completer with a langchaingo model.
type LLMCompleter struct {
	model       llms.Model
	temperature float64
}

// NewLLMCompleter connects to an OpenAI-compatible endpoint.
func NewLLMCompleter(cfg LLMConfig) (*LLMCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required: %w", hotline.ErrInvalidConfig)
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return NewLLMCompleterWithModel(llm, cfg.Temperature), nil
}

// NewLLMCompleterWithModel wraps an existing model. A zero temperature uses
// DefaultTemperature.
func NewLLMCompleterWithModel(model llms.Model, temperature float64) *LLMCompleter {
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	return &LLMCompleter{model: model, temperature: temperature}
}

// Complete implements Completer.
func (c *LLMCompleter) Complete(ctx context.Context, messages []hotline.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatRole(m.Role), m.Content))
	}

	resp, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", hotline.Wrap(fmt.Errorf("generate content: %w", err), hotline.KindTransient)
	}
	if len(resp.Choices) == 0 {
		return "", hotline.Wrap(ErrEmptyReply, hotline.KindEmpty)
	}
	return resp.Choices[0].Content, nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case hotline.RoleSystem:
		return llms.ChatMessageTypeSystem
	case hotline.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
