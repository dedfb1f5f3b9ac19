// Package safety audits each turn against content policies in the
// background. It observes and logs; it never changes what the caller hears.
package safety

import (
	"context"
	"strings"
)

// Policy is a content policy.
type Policy struct {
	Name        string
	Description string
}

var (
	// Harassment covers abuse aimed at a person.
	Harassment = Policy{
		Name:        "no_harassment",
		Description: "The text must not threaten, intimidate, insult, bully or demean another person.",
	}
	// DangerousContent covers instructions that enable self-harm or harm to others.
	DangerousContent = Policy{
		Name:        "no_dangerous_content",
		Description: "The text must not give instructions, methods or encouragement for harming oneself or others.",
	}
)

// Policies is the set every turn is checked against.
var Policies = []Policy{Harassment, DangerousContent}

// DefaultThreshold is the score at or above which a text violates a policy.
const DefaultThreshold = 0.5

// Scorer rates how likely text violates a policy, from 0 to 1.
type Scorer interface {
	Score(ctx context.Context, policy Policy, text string) (float64, error)
}

// KeywordScorer scores 1 when text contains a listed phrase for the policy.
type KeywordScorer struct {
	Phrases map[string][]string
}

// NewKeywordScorer returns a scorer with a small built-in phrase list.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{Phrases: map[string][]string{
		Harassment.Name: {
			"you are worthless", "you're worthless", "shut up", "you idiot", "you are pathetic",
			"nobody cares about you", "you deserve it",
		},
		DangerousContent.Name: {
			"how many pills", "lethal dose", "best way to kill", "how to hang", "how to cut",
			"you should do it", "go ahead and end it",
		},
	}}
}

// Score implements Scorer.
func (k *KeywordScorer) Score(_ context.Context, policy Policy, text string) (float64, error) {
	lower := strings.ToLower(text)
	for _, phrase := range k.Phrases[policy.Name] {
		if strings.Contains(lower, phrase) {
			return 1, nil
		}
	}
	return 0, nil
}
