package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/audio"
	"github.com/creastat/hotline/calls"
	"github.com/creastat/hotline/pipeline"
	"github.com/creastat/hotline/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const publicURL = "https://hotline.example.org"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeManager struct {
	mu      sync.Mutex
	started []calls.Started
	segs    []pipeline.Segment
	ended   []calls.Ended
	instr   calls.Instruction
	endErr  error
}

func (m *fakeManager) OnCallStarted(_ context.Context, s calls.Started) (calls.Instruction, *records.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, s)
	return calls.Instruction{Action: calls.ActionRecord, CallID: "call-1"}, &records.Call{ID: "call-1"}, nil
}

func (m *fakeManager) OnSegmentReady(_ context.Context, seg pipeline.Segment) calls.Instruction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segs = append(m.segs, seg)
	return m.instr
}

func (m *fakeManager) OnCallEnded(_ context.Context, e calls.Ended) (*records.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, e)
	if m.endErr != nil {
		return nil, m.endErr
	}
	return &records.Call{}, nil
}

type fixture struct {
	server   *Server
	manager  *fakeManager
	store    *audio.Store
	fallback string
}

func newFixture(t *testing.T, authToken string) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := audio.New(filepath.Join(dir, "audio"))
	require.NoError(t, err)
	fallback := filepath.Join(dir, "fallback.wav")
	require.NoError(t, os.WriteFile(fallback, []byte("fallback-audio"), 0o644))

	m := &fakeManager{}
	s, err := NewServer(Config{
		Manager:       m,
		Audio:         store,
		FallbackAudio: fallback,
		PublicURL:     publicURL + "/",
		AuthToken:     authToken,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	return &fixture{server: s, manager: m, store: store, fallback: fallback}
}

func (f *fixture) post(target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMapStatus(t *testing.T) {
	tests := map[string]hotline.CallStatus{
		"ringing":     hotline.StatusRinging,
		"in-progress": hotline.StatusInProgress,
		"completed":   hotline.StatusCompleted,
		"busy":        hotline.StatusFailed,
		"no-answer":   hotline.StatusFailed,
		"failed":      hotline.StatusFailed,
		"canceled":    hotline.StatusDisconnected,
	}
	for provider, want := range tests {
		got, ok := MapStatus(provider)
		assert.True(t, ok, provider)
		assert.Equal(t, want, got, provider)
	}
	_, ok := MapStatus("answered")
	assert.False(t, ok)
}

func TestRecordingURL(t *testing.T) {
	assert.Equal(t, "https://api.twilio.com/RE1.wav", RecordingURL("https://api.twilio.com/RE1"))
	assert.Equal(t, "https://api.twilio.com/RE1.mp3", RecordingURL("https://api.twilio.com/RE1.mp3"))
}

func TestFetcherRetriesUntilReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/RE1.wav", r.URL.Path)
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("wav-bytes"))
	}))
	defer srv.Close()

	f := NewRecordingFetcher(FetcherConfig{AccountSID: "AC1", AuthToken: "secret", RetryInterval: time.Millisecond})
	data, err := f.Fetch(context.Background(), srv.URL+"/RE1")
	require.NoError(t, err)
	assert.Equal(t, "wav-bytes", string(data))
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewRecordingFetcher(FetcherConfig{RetryInterval: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL+"/RE1")
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, hotline.KindTransient, hotline.KindOf(err))
}

func TestFetcherGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewRecordingFetcher(FetcherConfig{Attempts: 3, RetryInterval: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL+"/RE1")
	require.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetcherEmptyURL(t *testing.T) {
	_, err := NewRecordingFetcher(FetcherConfig{}).Fetch(context.Background(), "")
	assert.Equal(t, hotline.KindEmpty, hotline.KindOf(err))
}

func TestRender(t *testing.T) {
	action := publicURL + "/twilio/recording/c1"

	doc, err := Render(calls.Instruction{Action: calls.ActionRecord, CallID: "c1"}, action, "", RecordOptions{})
	require.NoError(t, err)
	assert.Contains(t, doc, "<Record")
	assert.Contains(t, doc, `action="`+action+`"`)
	assert.Contains(t, doc, `maxLength="30"`)
	assert.Contains(t, doc, `playBeep="false"`)
	assert.NotContains(t, doc, "<Play")
	assert.NotContains(t, doc, "<Say")

	doc, err = Render(calls.Instruction{Action: calls.ActionRecord, Beep: true}, action, "", RecordOptions{MaxLengthSeconds: 10})
	require.NoError(t, err)
	assert.Contains(t, doc, `playBeep="true"`)
	assert.Contains(t, doc, `maxLength="10"`)

	doc, err = Render(calls.Instruction{Action: calls.ActionPlayRecord}, action, publicURL+"/media/a.wav", RecordOptions{})
	require.NoError(t, err)
	assert.Contains(t, doc, "<Play>"+publicURL+"/media/a.wav</Play>")
	assert.Less(t, strings.Index(doc, "<Play"), strings.Index(doc, "<Record"))

	doc, err = Render(calls.Instruction{Action: calls.ActionPlayHangup}, action, publicURL+"/media/a.wav", RecordOptions{})
	require.NoError(t, err)
	assert.Contains(t, doc, "<Play>")
	assert.Contains(t, doc, "<Hangup")
	assert.NotContains(t, doc, "<Record")
}

func TestVoiceWebhookStartsRecording(t *testing.T) {
	f := newFixture(t, "")

	rec := f.post("/twilio/voice", url.Values{
		"CallSid":       {"CA1"},
		"From":          {"+919800000000"},
		"CallerCity":    {"Pune"},
		"CallerCountry": {"IN"},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), `action="`+publicURL+`/twilio/recording/call-1"`)
	require.Len(t, f.manager.started, 1)
	assert.Equal(t, calls.Started{
		ProviderCallID: "CA1",
		CallerNumber:   "+919800000000",
		Geo:            hotline.Geo{City: "Pune", Country: "IN"},
	}, f.manager.started[0])
}

func TestRecordingWebhookPlaysResponse(t *testing.T) {
	f := newFixture(t, "")
	path := f.store.ResponsePath("c1", 1)
	_, err := f.store.Save(path, []byte("reply"))
	require.NoError(t, err)
	f.manager.instr = calls.Instruction{Action: calls.ActionPlayRecord, CallID: "c1", Audio: path}

	rec := f.post("/twilio/recording/c1", url.Values{
		"RecordingUrl":      {"https://api.twilio.com/RE1"},
		"RecordingDuration": {"7"},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rel, err := f.store.Rel(path)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "<Play>"+publicURL+"/media/"+rel+"</Play>")
	assert.Equal(t, []pipeline.Segment{{CallID: "c1", RecordingURL: "https://api.twilio.com/RE1", DurationSeconds: 7}}, f.manager.segs)

	media := f.get("/media/" + rel)
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, "reply", media.Body.String())
}

func TestRecordingWebhookFallbackURL(t *testing.T) {
	f := newFixture(t, "")
	f.manager.instr = calls.Instruction{Action: calls.ActionPlayRecord, CallID: "c1", Audio: f.fallback}

	rec := f.post("/twilio/recording/c1", url.Values{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), publicURL+"/media/"+fallbackMedia)

	media := f.get("/media/" + fallbackMedia)
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, "fallback-audio", media.Body.String())
}

func TestMediaNeverServesRecordings(t *testing.T) {
	f := newFixture(t, "")
	path := f.store.RecordingPath("c1", 1)
	_, err := f.store.Save(path, []byte("caller audio"))
	require.NoError(t, err)
	rel, err := f.store.Rel(path)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, f.get("/media/"+rel).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/media/responses/../"+rel).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/media/responses/missing.wav").Code)
}

func TestStatusWebhook(t *testing.T) {
	f := newFixture(t, "")

	rec := f.post("/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"canceled"}, "CallDuration": {"12"}}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.manager.ended, 1)
	assert.Equal(t, calls.Ended{ProviderCallID: "CA1", Status: hotline.StatusDisconnected, DurationSeconds: 12}, f.manager.ended[0])

	rec = f.post("/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"answered"}}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, f.manager.ended, 1)

	f.manager.endErr = hotline.ErrNotFound
	rec = f.post("/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidation(t *testing.T) {
	f := newFixture(t, "token")
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}}

	rec := f.post("/twilio/voice", form, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.manager.started)

	header := http.Header{"X-Twilio-Signature": {sign("token", publicURL+"/twilio/voice", form)}}
	rec = f.post("/twilio/voice", form, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.manager.started, 1)

	assert.Equal(t, http.StatusOK, f.get("/healthz").Code)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.ErrorIs(t, err, hotline.ErrInvalidConfig)
}
