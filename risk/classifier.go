package risk

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable is returned while the pretrained model is not loaded.
	ErrModelUnavailable = errors.New("risk model unavailable")
	// ErrUnknownCategory is returned for labels outside the vocabulary.
	ErrUnknownCategory = errors.New("unknown risk category")
)

// Source identifies which classifier produced an assessment.
type Source string

const (
	SourceModel   Source = "model"
	SourceKeyword Source = "keyword"
)

// Assessment is the outcome of classifying accumulated transcript text.
type Assessment struct {
	Category    Category `json:"category"`
	Level       Level    `json:"risk_level"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Source      Source   `json:"source"`
	// Translated is true when the text was translated before classification.
	Translated bool `json:"translated"`
}

// NewAssessment fills level and description from the category vocabulary.
func NewAssessment(c Category, confidence float64, source Source) Assessment {
	return Assessment{
		Category:    c,
		Level:       c.Level(),
		Description: c.Description(),
		Confidence:  confidence,
		Source:      source,
	}
}

// Classifier classifies English text into the category vocabulary.
type Classifier interface {
	Classify(ctx context.Context, text string) (Assessment, error)
}
