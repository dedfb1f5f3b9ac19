package safety

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LLMScorer asks a chat model for a yes/no policy verdict.
type LLMScorer struct {
	model llms.Model
}

// NewLLMScorer wraps a langchaingo model.
func NewLLMScorer(model llms.Model) *LLMScorer {
	return &LLMScorer{model: model}
}

const verdictPrompt = `You are a content safety classifier.

Policy: %s

Does the following text violate the policy? Answer with exactly one word, Yes or No.

Text:
%s`

// Score implements Scorer: 1 for a Yes verdict, 0 otherwise.
func (s *LLMScorer) Score(ctx context.Context, policy Policy, text string) (float64, error) {
	resp, err := s.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(verdictPrompt, policy.Description, text)),
	}, llms.WithTemperature(0), llms.WithMaxTokens(3))
	if err != nil {
		return 0, fmt.Errorf("policy verdict: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("policy verdict: no choices")
	}
	verdict := strings.ToLower(strings.TrimSpace(resp.Choices[0].Content))
	if strings.HasPrefix(verdict, "yes") {
		return 1, nil
	}
	return 0, nil
}
