package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/creastat/hotline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSarvam(t *testing.T, handler http.HandlerFunc) *Sarvam {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewSarvam(SarvamConfig{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		RequestsPerSecond: 1000,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return s
}

func decodeJSON(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewSarvamRequiresKey(t *testing.T) {
	_, err := NewSarvam(SarvamConfig{})
	assert.ErrorIs(t, err, hotline.ErrInvalidConfig)
}

func TestTranscribe(t *testing.T) {
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech-to-text", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("api-subscription-key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "saarika:v2.5", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data))
		_, _ = w.Write([]byte(`{"transcript":" main theek nahi hoon ","language_code":"hi-IN"}`))
	})

	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	got, err := s.Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Transcription{Text: "main theek nahi hoon", LanguageCode: "hi-IN"}, got)
}

func TestTranscribeDefaultsLanguage(t *testing.T) {
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transcript":""}`))
	})
	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	got, err := s.Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, got.Text)
	assert.Equal(t, DefaultTranscriptLanguage, got.LanguageCode)
}

func TestIdentifyLanguage(t *testing.T) {
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-lid", r.URL.Path)
		assert.Equal(t, "namaste", decodeJSON(t, r)["input"])
		_, _ = w.Write([]byte(`{"language_code":"hi-IN","script_code":"Deva"}`))
	})
	got, err := s.IdentifyLanguage(context.Background(), "namaste")
	require.NoError(t, err)
	assert.Equal(t, "hi-IN", got)
}

func TestTranslate(t *testing.T) {
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		body := decodeJSON(t, r)
		assert.Equal(t, "auto", body["source_language_code"])
		assert.Equal(t, "en-IN", body["target_language_code"])
		_, _ = w.Write([]byte(`{"translated_text":"I am not okay"}`))
	})
	got, err := s.Translate(context.Background(), "main theek nahi hoon", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "I am not okay", got)
}

func TestSynthesizeWritesAudio(t *testing.T) {
	wav := []byte("RIFF-synth")
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech", r.URL.Path)
		body := decodeJSON(t, r)
		assert.Equal(t, "bulbul:v2", body["model"])
		assert.Equal(t, "anushka", body["speaker"])
		assert.Equal(t, true, body["enable_preprocessing"])
		assert.Equal(t, "ta-IN", body["target_language_code"])
		_ = json.NewEncoder(w).Encode(map[string]any{"audios": []string{base64.StdEncoding.EncodeToString(wav)}})
	})

	dest := filepath.Join(t.TempDir(), "responses", "r.wav")
	require.NoError(t, s.Synthesize(context.Background(), "ta-IN", "vanakkam", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, wav, got)
}

func TestSynthesizeNoAudio(t *testing.T) {
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"audios":[]}`))
	})
	dest := filepath.Join(t.TempDir(), "r.wav")
	err := s.Synthesize(context.Background(), "en-IN", "hi", dest)
	require.Error(t, err)
	assert.Equal(t, hotline.KindEmpty, hotline.KindOf(err))
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVendorErrorsAreClassified(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	s := newTestSarvam(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", int(status.Load()))
	})

	_, err := s.IdentifyLanguage(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, hotline.KindUnavailable, hotline.KindOf(err))
	assert.Contains(t, err.Error(), "overloaded")

	status.Store(http.StatusTooManyRequests)
	_, err = s.Translate(context.Background(), "x", "hi-IN")
	require.Error(t, err)
	assert.Equal(t, hotline.KindTransient, hotline.KindOf(err))
}

func TestNoop(t *testing.T) {
	var svc Service = Noop{}
	ctx := context.Background()

	tr, err := svc.Transcribe(ctx, "x.wav")
	require.NoError(t, err)
	assert.Empty(t, tr.Text)

	lang, err := svc.IdentifyLanguage(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, FallbackLanguage, lang)

	text, err := svc.Translate(ctx, "hola", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", text)

	assert.ErrorIs(t, svc.Synthesize(ctx, "en-IN", "hi", "out.wav"), ErrUnavailable)
}
