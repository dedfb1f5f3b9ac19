// Package telephony is the Twilio webhook boundary: it turns provider
// callbacks into call manager events and manager instructions into TwiML.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/audio"
	"github.com/creastat/hotline/calls"
	"github.com/creastat/hotline/pipeline"
	"github.com/creastat/hotline/records"
	"github.com/labstack/echo/v5"
	"github.com/twilio/twilio-go/client"
)

// fallbackMedia is the media name the fallback artifact is served under.
const fallbackMedia = "_fallback.wav"

// CallManager is the part of calls.Manager the webhooks drive.
type CallManager interface {
	OnCallStarted(ctx context.Context, s calls.Started) (calls.Instruction, *records.Call, error)
	OnSegmentReady(ctx context.Context, seg pipeline.Segment) calls.Instruction
	OnCallEnded(ctx context.Context, e calls.Ended) (*records.Call, error)
}

// Config wires a Server.
type Config struct {
	Manager CallManager
	Audio   *audio.Store
	// FallbackAudio is served when the instruction points outside the store.
	FallbackAudio string
	// PublicURL is the externally reachable base URL, e.g.
	// "https://hotline.example.org". Used for callbacks, media and
	// signature checks.
	PublicURL string
	// AuthToken enables X-Twilio-Signature validation when set.
	AuthToken string
	Record    RecordOptions
	// SegmentTimeout bounds one segment run. Default: 2 minutes.
	SegmentTimeout time.Duration
	Logger         *slog.Logger
}

// Server hosts the webhook routes.
type Server struct {
	cfg       Config
	echo      *echo.Echo
	validator *client.RequestValidator
	logger    *slog.Logger
}

// NewServer registers the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil || cfg.Audio == nil {
		return nil, fmt.Errorf("telephony: manager and audio store are required: %w", hotline.ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.PublicURL); err != nil || cfg.PublicURL == "" {
		return nil, fmt.Errorf("telephony: public url %q: %w", cfg.PublicURL, hotline.ErrInvalidConfig)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, echo: echo.New(), logger: logger}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		s.validator = &v
	}

	g := s.echo.Group("/twilio", s.verifySignature)
	g.POST("/voice", s.handleVoice)
	g.POST("/recording/:call_id", s.handleRecording)
	g.POST("/status", s.handleStatus)
	s.echo.GET("/media/*", s.handleMedia)
	s.echo.GET("/healthz", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) verifySignature(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.validator == nil {
			return next(c)
		}
		req := c.Request()
		if err := req.ParseForm(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed form")
		}
		params := make(map[string]string, len(req.PostForm))
		for k, v := range req.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.cfg.PublicURL+req.URL.RequestURI(), params, req.Header.Get("X-Twilio-Signature")) {
			s.logger.Warn("rejected unsigned webhook", "path", req.URL.Path)
			return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
		}
		return next(c)
	}
}

func (s *Server) handleVoice(c *echo.Context) error {
	instr, _, err := s.cfg.Manager.OnCallStarted(c.Request().Context(), calls.Started{
		ProviderCallID: c.FormValue("CallSid"),
		CallerNumber:   c.FormValue("From"),
		Geo: hotline.Geo{
			City:    c.FormValue("CallerCity"),
			State:   c.FormValue("CallerState"),
			Country: c.FormValue("CallerCountry"),
		},
	})
	if err != nil {
		s.logger.Error("call start failed", "provider_call_id", c.FormValue("CallSid"), "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "call start failed")
	}
	return s.twiml(c, instr)
}

func (s *Server) handleRecording(c *echo.Context) error {
	duration, _ := strconv.Atoi(c.FormValue("RecordingDuration"))
	seg := pipeline.Segment{
		CallID:          c.Param("call_id"),
		RecordingURL:    c.FormValue("RecordingUrl"),
		DurationSeconds: duration,
	}

	// Twilio may hang up on a slow webhook; the segment still runs to the end.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.cfg.SegmentTimeout)
	defer cancel()
	return s.twiml(c, s.cfg.Manager.OnSegmentReady(ctx, seg))
}

func (s *Server) handleStatus(c *echo.Context) error {
	providerStatus := c.FormValue("CallStatus")
	status, ok := MapStatus(providerStatus)
	if !ok {
		s.logger.Warn("ignoring unknown call status", "status", providerStatus)
		return c.NoContent(http.StatusNoContent)
	}
	duration, _ := strconv.Atoi(c.FormValue("CallDuration"))

	_, err := s.cfg.Manager.OnCallEnded(c.Request().Context(), calls.Ended{
		ProviderCallID:  c.FormValue("CallSid"),
		Status:          status,
		DurationSeconds: duration,
	})
	switch {
	case errors.Is(err, hotline.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	case err != nil:
		s.logger.Error("status update failed", "provider_call_id", c.FormValue("CallSid"), "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "status update failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleMedia serves synthesized responses and the fallback artifact. Caller
// recordings are never served.
func (s *Server) handleMedia(c *echo.Context) error {
	name := path.Clean("/" + c.Param("*"))[1:]
	if name == fallbackMedia && s.cfg.FallbackAudio != "" {
		http.ServeFile(c.Response(), c.Request(), s.cfg.FallbackAudio)
		return nil
	}
	if !strings.HasPrefix(name, "responses/") || strings.HasSuffix(name, audio.IntegritySuffix) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	full := filepath.Join(s.cfg.Audio.Root(), filepath.FromSlash(name))
	if !s.cfg.Audio.Exists(full) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	http.ServeFile(c.Response(), c.Request(), full)
	return nil
}

// MediaURL returns the public URL for an artifact path.
func (s *Server) MediaURL(artifact string) string {
	if artifact == "" {
		return ""
	}
	if rel, err := s.cfg.Audio.Rel(artifact); err == nil {
		return s.cfg.PublicURL + "/media/" + rel
	}
	return s.cfg.PublicURL + "/media/" + fallbackMedia
}

func (s *Server) twiml(c *echo.Context, instr calls.Instruction) error {
	action := s.cfg.PublicURL + "/twilio/recording/" + url.PathEscape(instr.CallID)
	doc, err := Render(instr, action, s.MediaURL(instr.Audio), s.cfg.Record)
	if err != nil {
		s.logger.Error("twiml render failed", "call_id", instr.CallID, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "twiml render failed")
	}
	return c.Blob(http.StatusOK, "application/xml", []byte(doc))
}
