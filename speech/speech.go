// Package speech adapts the speech vendor: transcription, language
// identification, translation into English and speech synthesis.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// FallbackLanguage is used for synthesis when identification fails.
	FallbackLanguage = "en-IN"
	// DefaultTranscriptLanguage is assumed when the transcriber reports none.
	DefaultTranscriptLanguage = "hi-IN"
)

// ErrUnavailable is returned by the no-op driver and by a client without
// credentials.
var ErrUnavailable = errors.New("speech service unavailable")

// Transcription is the text of one audio segment.
type Transcription struct {
	Text         string
	LanguageCode string
}

// Transcriber converts a stored audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)
}

// LanguageIdentifier detects the language of text, as a BCP-47 code such as
// "hi-IN".
type LanguageIdentifier interface {
	IdentifyLanguage(ctx context.Context, text string) (string, error)
}

// Translator translates text into English.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage string) (string, error)
}

// Synthesizer renders text as speech into destPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, languageCode, text, destPath string) error
}

// Service bundles every speech capability.
type Service interface {
	Transcriber
	LanguageIdentifier
	Translator
	Synthesizer
}

// Noop is the Service used when no vendor is configured. Transcripts come
// back empty so segments are treated as silence; synthesis always fails so
// the fallback artifact plays.
type Noop struct{}

func (Noop) Transcribe(context.Context, string) (Transcription, error) {
	return Transcription{LanguageCode: DefaultTranscriptLanguage}, nil
}

func (Noop) IdentifyLanguage(context.Context, string) (string, error) {
	return FallbackLanguage, nil
}

func (Noop) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

func (Noop) Synthesize(context.Context, string, string, string) error {
	return ErrUnavailable
}

var _ Service = Noop{}

// writeAtomic places data at path via a temp file so pollers never observe a
// partially written artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
