package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"golang.org/x/time/rate"
)

// SarvamConfig configures the vendor REST client.
type SarvamConfig struct {
	BaseURL string // Default: https://api.sarvam.ai
	APIKey  string

	TranscriptionModel string // Default: saarika:v2.5
	SynthesisModel     string // Default: bulbul:v2
	Speaker            string // Default: anushka

	// RequestsPerSecond limits outgoing calls. Default: 5.
	RequestsPerSecond float64
	Timeout           time.Duration // Default: 30 seconds
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Sarvam implements Service over the Sarvam REST API.
type Sarvam struct {
	cfg     SarvamConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSarvam creates a Sarvam client.
func NewSarvam(cfg SarvamConfig) (*Sarvam, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sarvam api key is required: %w", hotline.ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sarvam.ai"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "saarika:v2.5"
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = "bulbul:v2"
	}
	if cfg.Speaker == "" {
		cfg.Speaker = "anushka"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sarvam{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond))),
		logger:  logger,
	}, nil
}

type transcribeResponse struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

// Transcribe implements Transcriber.
func (s *Sarvam) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcription{}, fmt.Errorf("read audio: %w", err)
	}
	if err := w.WriteField("model", s.cfg.TranscriptionModel); err != nil {
		return Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}
	if err := w.Close(); err != nil {
		return Transcription{}, fmt.Errorf("build transcription form: %w", err)
	}

	var resp transcribeResponse
	if err := s.do(ctx, "/speech-to-text", w.FormDataContentType(), &body, &resp); err != nil {
		return Transcription{}, err
	}
	out := Transcription{Text: strings.TrimSpace(resp.Transcript), LanguageCode: resp.LanguageCode}
	if out.LanguageCode == "" {
		out.LanguageCode = DefaultTranscriptLanguage
	}
	return out, nil
}

// IdentifyLanguage implements LanguageIdentifier.
func (s *Sarvam) IdentifyLanguage(ctx context.Context, text string) (string, error) {
	var resp struct {
		LanguageCode string `json:"language_code"`
	}
	if err := s.doJSON(ctx, "/text-lid", map[string]any{"input": text}, &resp); err != nil {
		return "", err
	}
	if resp.LanguageCode == "" {
		return "", hotline.Wrap(fmt.Errorf("sarvam /text-lid: no language detected"), hotline.KindEmpty)
	}
	return resp.LanguageCode, nil
}

// Translate implements Translator. The source language is detected by the
// vendor; sourceLanguage is only logged.
func (s *Sarvam) Translate(ctx context.Context, text, sourceLanguage string) (string, error) {
	var resp struct {
		TranslatedText string `json:"translated_text"`
	}
	req := map[string]any{
		"input":                text,
		"source_language_code": "auto",
		"target_language_code": "en-IN",
	}
	if err := s.doJSON(ctx, "/translate", req, &resp); err != nil {
		return "", err
	}
	if resp.TranslatedText == "" {
		return "", hotline.Wrap(fmt.Errorf("sarvam /translate: empty translation of %s text", sourceLanguage), hotline.KindEmpty)
	}
	return resp.TranslatedText, nil
}

// Synthesize implements Synthesizer. The first returned audio is decoded and
// written to destPath.
func (s *Sarvam) Synthesize(ctx context.Context, languageCode, text, destPath string) error {
	var resp struct {
		Audios []string `json:"audios"`
	}
	req := map[string]any{
		"text":                 text,
		"target_language_code": languageCode,
		"model":                s.cfg.SynthesisModel,
		"speaker":              s.cfg.Speaker,
		"enable_preprocessing": true,
	}
	if err := s.doJSON(ctx, "/text-to-speech", req, &resp); err != nil {
		return err
	}
	if len(resp.Audios) == 0 || resp.Audios[0] == "" {
		return hotline.Wrap(fmt.Errorf("sarvam /text-to-speech: no audio returned"), hotline.KindEmpty)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Audios[0])
	if err != nil {
		return fmt.Errorf("decode synthesized audio: %w", err)
	}
	return writeAtomic(destPath, audio)
}

func (s *Sarvam) doJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	return s.do(ctx, endpoint, "application/json", bytes.NewReader(payload), out)
}

func (s *Sarvam) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return hotline.Wrap(fmt.Errorf("sarvam %s: %w", endpoint, err), hotline.KindTransient)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-subscription-key", s.cfg.APIKey)

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return hotline.Wrap(fmt.Errorf("sarvam %s: %w", endpoint, err), hotline.KindTransient)
	}
	defer resp.Body.Close()
	s.logger.Debug("sarvam request", "endpoint", endpoint, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := hotline.KindTransient
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = hotline.KindUnavailable
		}
		return hotline.Wrap(fmt.Errorf("sarvam %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg))), kind)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return hotline.Wrap(fmt.Errorf("decode %s response: %w", endpoint, err), hotline.KindTransient)
	}
	return nil
}

var _ Service = (*Sarvam)(nil)
