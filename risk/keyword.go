package risk

import (
	"context"
	"strings"
)

// Confidence values reported by the keyword classifier.
const (
	KeywordMatchConfidence   = 0.6
	KeywordNoMatchConfidence = 0.3
)

type keywordRule struct {
	category Category
	phrases  []string
}

// keywordTiers are checked from most to least severe; the first tier with a
// match decides the category. Phrases of later tiers are masked while a tier is
// scanned, so "tried to kill myself" reads as a previous attempt.
var keywordTiers = [][]keywordRule{
	{
		{CategoryPlanning, []string{
			"kill myself", "end my life", "end it all", "take my own life", "plan to die",
			"suicide plan", "going to jump", "hang myself", "want to die", "better off dead",
			"no reason to live", "say goodbye to everyone",
		}},
	},
	{
		{CategoryPrevAttempt, []string{
			"tried to kill myself", "attempted suicide", "tried to end", "last attempt",
			"previous attempt", "overdosed before", "survived an attempt", "tried before",
		}},
	},
	{
		{CategoryConsumption, []string{
			"drinking", "drunk", "alcohol", "pills", "drugs", "high all the time", "substance",
		}},
		{CategorySelfCare, []string{
			"can't get out of bed", "cannot get out of bed", "stopped eating", "not eating",
			"can't sleep", "cannot sleep", "stopped caring", "don't shower", "gave up on everything",
		}},
		{CategorySelfControl, []string{
			"out of control", "can't control", "cannot control", "urge to", "losing my mind",
			"can't stop crying", "panic",
		}},
	},
	{
		{CategoryHope, []string{
			"hopeless", "no way out", "nothing will change", "stuck", "pointless", "worthless",
			"no future", "give up",
		}},
		{CategoryLovedOne, []string{
			"lonely", "alone", "no one to talk", "nobody cares", "no friends", "miss my",
			"no one understands",
		}},
	},
}

// KeywordClassifier is the deterministic fallback classifier. It matches
// phrases over four severity tiers and never fails.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string) (Assessment, error) {
	normalized := normalize(text)
	for i, tier := range keywordTiers {
		scanned := maskLaterTiers(normalized, i)
		for _, rule := range tier {
			for _, phrase := range rule.phrases {
				if strings.Contains(scanned, phrase) {
					return NewAssessment(rule.category, KeywordMatchConfidence, SourceKeyword), nil
				}
			}
		}
	}
	return NewAssessment(CategoryOther, KeywordNoMatchConfidence, SourceKeyword), nil
}

func normalize(text string) string {
	lower := strings.ToLower(text)
	lower = strings.NewReplacer("’", "'", "\n", " ", "\t", " ").Replace(lower)
	return strings.Join(strings.Fields(lower), " ")
}

func maskLaterTiers(text string, tier int) string {
	for _, later := range keywordTiers[tier+1:] {
		for _, rule := range later {
			for _, phrase := range rule.phrases {
				text = strings.ReplaceAll(text, phrase, "|")
			}
		}
	}
	return text
}
