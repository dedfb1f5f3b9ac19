package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubClassifier struct {
	assessment Assessment
	err        error
	seen       string
}

func (s *stubClassifier) Classify(_ context.Context, text string) (Assessment, error) {
	s.seen = text
	return s.assessment, s.err
}

type stubTranslator struct {
	out   string
	err   error
	calls int
}

func (s *stubTranslator) Translate(context.Context, string, string) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestAssessorUsesPrimary(t *testing.T) {
	primary := &stubClassifier{assessment: NewAssessment(CategoryPrevAttempt, 0.9, SourceModel)}
	a := NewAssessor(primary, nil, discard)

	got := a.Assess(context.Background(), "something", "en-IN")
	assert.Equal(t, CategoryPrevAttempt, got.Category)
	assert.Equal(t, SourceModel, got.Source)
}

func TestAssessorFallsBackWhenModelUnavailable(t *testing.T) {
	primary := &stubClassifier{err: ErrModelUnavailable}
	a := NewAssessor(primary, nil, discard)

	got := a.Assess(context.Background(), "I lost my job and feel hopeless", "en-IN")
	assert.Equal(t, SourceKeyword, got.Source)
	assert.LessOrEqual(t, got.Level, Moderate)
}

func TestAssessorFallsBackOnAnyPrimaryError(t *testing.T) {
	a := NewAssessor(&stubClassifier{err: errors.New("boom")}, nil, discard)
	got := a.Assess(context.Background(), "I have a plan to end my life tonight", "")
	assert.Equal(t, Critical, got.Level)
}

func TestAssessorTranslatesNonASCII(t *testing.T) {
	primary := &stubClassifier{assessment: NewAssessment(CategoryPlanning, 1, SourceModel)}
	tr := &stubTranslator{out: "I will kill myself"}
	a := NewAssessor(primary, tr, discard)

	got := a.Assess(context.Background(), "ನಾನು ಆತ್ಮಹತ್ಯೆ ಮಾಡಿಕೊಳ್ಳುತ್ತೇನೆ", "kn-IN")
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, "I will kill myself", primary.seen)
	assert.True(t, got.Translated)
}

func TestAssessorClassifiesOriginalWhenTranslationFails(t *testing.T) {
	primary := &stubClassifier{assessment: NewAssessment(CategoryOther, 1, SourceModel)}
	tr := &stubTranslator{err: errors.New("vendor down")}
	a := NewAssessor(primary, tr, discard)

	got := a.Assess(context.Background(), "मैं ठीक हूँ", "hi-IN")
	assert.Equal(t, "मैं ठीक हूँ", primary.seen)
	assert.False(t, got.Translated)
}

func TestAssessorSkipsTranslationForEnglish(t *testing.T) {
	tr := &stubTranslator{out: "x"}
	a := NewAssessor(nil, tr, discard)
	a.Assess(context.Background(), "I feel so lonely", "en-IN")
	assert.Zero(t, tr.calls)
}

func TestNeedsTranslation(t *testing.T) {
	assert.False(t, NeedsTranslation("hello", ""))
	assert.False(t, NeedsTranslation("hello", "en-IN"))
	assert.True(t, NeedsTranslation("hello", "hi-IN"))
	assert.True(t, NeedsTranslation("नमस्ते", "en-IN"))
	assert.False(t, NeedsTranslation("hello", "not a tag!"))
}

func TestModelClassifierLazyLoad(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/predict":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"label":"Suicidal planning","score":0.97}`))
		}
	}))
	defer srv.Close()

	m, err := NewModelClassifier(ModelConfig{BaseURL: srv.URL, RetryLoadAfter: time.Hour, Logger: discard})
	require.NoError(t, err)

	_, err = m.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrModelUnavailable)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.state == modelFailed
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrModelUnavailable, "a recent failure is remembered")

	healthy.Store(true)
	require.NoError(t, m.Load(context.Background()))
	assert.True(t, m.Ready())

	got, err := m.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, CategoryPlanning, got.Category)
	assert.Equal(t, Critical, got.Level)
	assert.InDelta(t, 0.97, got.Confidence, 1e-9)
}

func TestModelClassifierRejectsUnknownLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predict" {
			_, _ = w.Write([]byte(`{"label":"Weather"}`))
		}
	}))
	defer srv.Close()

	m, err := NewModelClassifier(ModelConfig{BaseURL: srv.URL, Logger: discard})
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	_, err = m.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
