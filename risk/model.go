package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ModelConfig configures the pretrained classifier inference service.
type ModelConfig struct {
	// BaseURL of the inference service, e.g. "http://classifier:8080".
	BaseURL string
	// Timeout per request. Default: 10 seconds.
	Timeout time.Duration
	// RetryLoadAfter is how long a failed load is remembered. Default: 1 minute.
	RetryLoadAfter time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

type modelState int

const (
	modelIdle modelState = iota
	modelLoading
	modelReady
	modelFailed
)

// ModelClassifier calls a served multi-class text classifier. The model is
// loaded lazily: until the service reports healthy, Classify returns
// ErrModelUnavailable and starts a background load.
type ModelClassifier struct {
	baseURL    string
	httpClient *http.Client
	retryAfter time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	state    modelState
	failedAt time.Time
}

type predictRequest struct {
	Inputs string `json:"inputs"`
}

type predictResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewModelClassifier creates a ModelClassifier.
func NewModelClassifier(cfg ModelConfig) (*ModelClassifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("classifier base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryLoadAfter <= 0 {
		cfg.RetryLoadAfter = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ModelClassifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		retryAfter: cfg.RetryLoadAfter,
		logger:     cfg.Logger,
	}, nil
}

// Load checks the inference service synchronously and marks the model ready
// or failed.
func (m *ModelClassifier) Load(ctx context.Context) error {
	m.mu.Lock()
	m.state = modelLoading
	m.mu.Unlock()

	err := m.health(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = modelFailed
		m.failedAt = time.Now()
		m.logger.Error("risk model load failed", "err", err)
		return err
	}
	m.state = modelReady
	m.logger.Info("risk model loaded", "url", m.baseURL)
	return nil
}

// Ready reports whether the model is loaded.
func (m *ModelClassifier) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == modelReady
}

// Classify implements Classifier.
func (m *ModelClassifier) Classify(ctx context.Context, text string) (Assessment, error) {
	if !m.ensureLoading() {
		return Assessment{}, ErrModelUnavailable
	}

	body, err := json.Marshal(predictRequest{Inputs: text})
	if err != nil {
		return Assessment{}, fmt.Errorf("marshal predict request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		m.markFailed()
		return Assessment{}, ErrModelUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Assessment{}, fmt.Errorf("predict: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Assessment{}, fmt.Errorf("decode predict response: %w", err)
	}
	category, err := ParseCategory(out.Label)
	if err != nil {
		return Assessment{}, err
	}
	confidence := out.Score
	if confidence <= 0 {
		confidence = 1.0
	}
	return NewAssessment(category, confidence, SourceModel), nil
}

// ensureLoading returns true when the model is ready. Otherwise it starts a
// background load unless one is running or a recent load failed.
func (m *ModelClassifier) ensureLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case modelReady:
		return true
	case modelLoading:
		return false
	case modelFailed:
		if time.Since(m.failedAt) < m.retryAfter {
			return false
		}
	}
	m.state = modelLoading
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.httpClient.Timeout+time.Second)
		defer cancel()
		_ = m.Load(ctx)
	}()
	return false
}

func (m *ModelClassifier) markFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = modelFailed
	m.failedAt = time.Now()
}

func (m *ModelClassifier) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d", resp.StatusCode)
	}
	return nil
}

var _ Classifier = (*ModelClassifier)(nil)
