package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creastat/hotline"
)

// maxRecordingBytes caps a single segment download.
const maxRecordingBytes = 64 << 20

// FetcherConfig configures RecordingFetcher.
type FetcherConfig struct {
	AccountSID string
	AuthToken  string
	// Attempts bounds downloads of a recording that is not ready yet.
	// Default: 3.
	Attempts int
	// RetryInterval is the first backoff interval. Default: 500ms.
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

// RecordingFetcher downloads segment audio from Twilio. A recording can
// briefly return 404 right after the webhook fires, so not-found and server
// errors are retried.
type RecordingFetcher struct {
	sid, token string
	attempts   int
	interval   time.Duration
	client     *http.Client
}

// NewRecordingFetcher creates a RecordingFetcher.
func NewRecordingFetcher(cfg FetcherConfig) *RecordingFetcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RecordingFetcher{
		sid:      cfg.AccountSID,
		token:    cfg.AuthToken,
		attempts: cfg.Attempts,
		interval: cfg.RetryInterval,
		client:   cfg.HTTPClient,
	}
}

// RecordingURL returns the WAV download URL for a Twilio RecordingUrl.
func RecordingURL(raw string) string {
	if path.Ext(strings.SplitN(raw, "?", 2)[0]) != "" {
		return raw
	}
	return raw + ".wav"
}

// Fetch implements pipeline.Fetcher.
func (f *RecordingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, hotline.Wrap(fmt.Errorf("fetch recording: empty url"), hotline.KindEmpty)
	}
	target := RecordingURL(url)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if f.sid != "" {
			req.SetBasicAuth(f.sid, f.token)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound, resp.StatusCode >= 500:
			return fmt.Errorf("recording not ready: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("download recording: status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.interval
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, hotline.Wrap(fmt.Errorf("fetch recording: %w", err), hotline.KindTransient)
	}
	return body, nil
}
