package risk

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/text/language"
)

// Translator normalizes text into English before classification.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage string) (string, error)
}

// Assessor is the Risk Classifier Adapter. It translates non-English text,
// asks the primary classifier, and falls back to keyword matching whenever the
// primary is missing or fails. Assess never fails.
type Assessor struct {
	primary    Classifier
	fallback   Classifier
	translator Translator
	logger     *slog.Logger
}

// NewAssessor creates an Assessor. primary and translator may be nil.
func NewAssessor(primary Classifier, translator Translator, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		primary:    primary,
		fallback:   KeywordClassifier{},
		translator: translator,
		logger:     logger,
	}
}

// Assess classifies the accumulated transcript. languageHint is the language
// detected by transcription and may be empty.
func (a *Assessor) Assess(ctx context.Context, text, languageHint string) Assessment {
	english, translated := a.toEnglish(ctx, text, languageHint)

	if a.primary != nil {
		assessment, err := a.primary.Classify(ctx, english)
		if err == nil {
			assessment.Translated = translated
			return assessment
		}
		if errors.Is(err, ErrModelUnavailable) {
			a.logger.Warn("risk model unavailable, using keyword fallback")
		} else {
			a.logger.Error("risk model classify failed, using keyword fallback", "err", err)
		}
	}

	assessment, _ := a.fallback.Classify(ctx, english)
	assessment.Translated = translated
	return assessment
}

func (a *Assessor) toEnglish(ctx context.Context, text, languageHint string) (string, bool) {
	if a.translator == nil || !NeedsTranslation(text, languageHint) {
		return text, false
	}
	translated, err := a.translator.Translate(ctx, text, "auto")
	if err != nil {
		a.logger.Warn("translation failed, classifying original text", "err", err)
		return text, false
	}
	if strings.TrimSpace(translated) == "" {
		a.logger.Warn("translation returned empty text, classifying original text")
		return text, false
	}
	return translated, true
}

// NeedsTranslation reports whether text contains non-ASCII characters or the
// language hint names a language other than English.
func NeedsTranslation(text, languageHint string) bool {
	for _, r := range text {
		if r > 127 {
			return true
		}
	}
	if languageHint == "" {
		return false
	}
	tag, err := language.Parse(languageHint)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	english, _ := language.English.Base()
	return base != english
}
