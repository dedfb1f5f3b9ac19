// Package pipeline runs one recorded segment through download,
// transcription, classification, reply, synthesis and playback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/audio"
	"github.com/creastat/hotline/conversation"
	"github.com/creastat/hotline/escalation"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/retry"
	"github.com/creastat/hotline/risk"
	"github.com/creastat/hotline/safety"
	"github.com/creastat/hotline/session"
	"github.com/creastat/hotline/speech"
)

// Stage is a state of the per-segment machine.
type Stage string

const (
	StageRecorded    Stage = "recorded"
	StageDownloaded  Stage = "downloaded"
	StageTranscribed Stage = "transcribed"
	StageClassified  Stage = "classified"
	StageReplied     Stage = "replied"
	StageSynthesized Stage = "synthesized"
	StagePlayed      Stage = "played"
)

// Outcome is what the caller experiences for a segment.
type Outcome string

const (
	// OutcomeNoReply: nothing is played. Recording resumes unless ShouldEnd
	// is set.
	OutcomeNoReply Outcome = "no_reply"
	// OutcomeSilent: the segment had no speech; the caller is prompted to go on.
	OutcomeSilent Outcome = "silent"
	// OutcomeReplied: the synthesized reply is played.
	OutcomeReplied Outcome = "replied"
	// OutcomeFallback: the pre-recorded fallback artifact is played.
	OutcomeFallback Outcome = "fallback"
)

// Fetcher downloads segment audio from the telephony provider.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Assessor classifies cumulative transcript text. risk.Assessor satisfies it.
type Assessor interface {
	Assess(ctx context.Context, text, languageHint string) risk.Assessment
}

// Responder produces the next reply. conversation.Engine satisfies it.
type Responder interface {
	Reply(ctx context.Context, turn conversation.Turn) (conversation.Reply, error)
}

// Escalator folds assessments into the call's risk. escalation.Escalator
// satisfies it.
type Escalator interface {
	Observe(ctx context.Context, callID string, a risk.Assessment) (escalation.Decision, error)
}

// SafetyMonitor audits a finished turn. safety.Validator satisfies it.
type SafetyMonitor interface {
	Submit(turn safety.Turn)
}

// Segment is a recorded segment announced by the telephony provider.
type Segment struct {
	CallID          string
	RecordingURL    string
	DurationSeconds int
}

// Result summarizes one segment run.
type Result struct {
	ChunkNumber int
	Stage       Stage
	Outcome     Outcome
	// AudioPath is the absolute path of the artifact to play, if any.
	AudioPath   string
	ShouldEnd   bool
	HighestRisk risk.Level
	Assessment  *risk.Assessment
}

// Config wires a Pipeline.
type Config struct {
	Fetcher   Fetcher
	Ledger    records.Store
	Sessions  session.Store
	Audio     *audio.Store
	Speech    speech.Service
	Assessor  Assessor
	Responder Responder
	Escalator Escalator
	Safety    SafetyMonitor
	Poll      retry.Policy
	// FallbackAudio is played whenever a reply cannot be synthesized.
	FallbackAudio string
	Logger        *slog.Logger
}

// Pipeline is the Segment Pipeline.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New validates cfg and creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Fetcher == nil, cfg.Ledger == nil, cfg.Sessions == nil, cfg.Audio == nil,
		cfg.Speech == nil, cfg.Assessor == nil, cfg.Responder == nil, cfg.Escalator == nil,
		cfg.Safety == nil:
		return nil, fmt.Errorf("pipeline: missing collaborator: %w", hotline.ErrInvalidConfig)
	case cfg.FallbackAudio == "":
		return nil, fmt.Errorf("pipeline: fallback audio is required: %w", hotline.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Process runs seg to completion. Stage failures degrade the outcome and are
// logged; an error is returned only when the call itself is unknown.
func (p *Pipeline) Process(ctx context.Context, seg Segment) (Result, error) {
	log := p.logger.With("call_id", seg.CallID)
	res := Result{Stage: StageRecorded, Outcome: OutcomeNoReply}

	chunk, path, err := p.download(ctx, seg)
	if err != nil {
		if errors.Is(err, hotline.ErrNotFound) {
			return res, hotline.Wrap(fmt.Errorf("process segment: %w", err), hotline.KindInconsistent)
		}
		log.Warn("segment download failed", "kind", hotline.KindOf(err), "err", err)
		if chunk != nil {
			res.ChunkNumber = chunk.Number
		}
		return res, nil
	}
	res.ChunkNumber = chunk.Number
	res.Stage = StageDownloaded
	log = log.With("chunk", chunk.Number)

	tr, err := p.cfg.Speech.Transcribe(ctx, path)
	if err != nil {
		log.Warn("transcription failed", "kind", hotline.KindOf(err), "err", err)
		return res, nil
	}
	res.Stage = StageTranscribed
	if tr.LanguageCode == "" {
		tr.LanguageCode = speech.DefaultTranscriptLanguage
	}
	text := tr.Text
	chunk.Transcription = &text
	chunk.LanguageCode = tr.LanguageCode

	if text == "" {
		log.Info("silent segment")
		p.finish(ctx, log, chunk)
		res.Outcome = OutcomeSilent
		return res, nil
	}

	state, assessment, highest := p.classify(ctx, log, chunk, tr)
	if state == nil {
		p.finish(ctx, log, chunk)
		return res, hotline.Wrap(fmt.Errorf("process segment: %w", hotline.ErrNotFound), hotline.KindInconsistent)
	}
	res.Stage = StageClassified
	res.Assessment = &assessment
	res.HighestRisk = highest

	reply, err := p.cfg.Responder.Reply(ctx, conversation.Turn{
		CallerKey:    state.CallerKey,
		History:      state.Conversation,
		UserText:     text,
		LanguageCode: tr.LanguageCode,
		Exchange:     state.Exchanges,
	})
	if err != nil {
		log.Error("reply failed, playing fallback", "kind", hotline.KindOf(err), "err", err)
		return p.play(ctx, log, chunk, res, p.cfg.FallbackAudio, OutcomeFallback), nil
	}
	res.Stage = StageReplied
	res.ShouldEnd = reply.ShouldEnd

	_, err = session.Mutate(ctx, p.cfg.Sessions, seg.CallID, func(s *session.CallState) error {
		s.Conversation = reply.History
		s.Exchanges++
		return nil
	})
	if err != nil {
		log.Error("failed to save conversation", "err", err)
	}
	p.cfg.Safety.Submit(safety.Turn{CallID: seg.CallID, UserText: text, ReplyText: reply.Text})

	if strings.TrimSpace(reply.Text) == "" {
		if reply.ShouldEnd {
			// A bare end marker: close without speaking.
			log.Info("reply closed the conversation without text")
			p.finish(ctx, log, chunk)
			res.Outcome = OutcomeNoReply
			return res, nil
		}
		log.Warn("reply was empty, playing fallback")
		return p.play(ctx, log, chunk, res, p.cfg.FallbackAudio, OutcomeFallback), nil
	}

	respPath := p.cfg.Audio.ResponsePath(seg.CallID, chunk.Number)
	if !p.synthesize(ctx, log, tr.LanguageCode, reply.Text, respPath) {
		return p.play(ctx, log, chunk, res, p.cfg.FallbackAudio, OutcomeFallback), nil
	}
	res.Stage = StageSynthesized
	return p.play(ctx, log, chunk, res, respPath, OutcomeReplied), nil
}

// download fetches the segment, then numbers and stores it. A fetch failure
// creates no chunk.
func (p *Pipeline) download(ctx context.Context, seg Segment) (*records.Chunk, string, error) {
	data, err := p.cfg.Fetcher.Fetch(ctx, seg.RecordingURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch recording: %w", err)
	}
	if len(data) == 0 {
		return nil, "", hotline.Wrap(fmt.Errorf("fetch recording: empty body"), hotline.KindEmpty)
	}

	chunk := &records.Chunk{
		CallID:          seg.CallID,
		RecordingURL:    seg.RecordingURL,
		DurationSeconds: seg.DurationSeconds,
	}
	if err := p.cfg.Ledger.NextChunk(ctx, chunk); err != nil {
		return nil, "", fmt.Errorf("number chunk: %w", err)
	}

	path := p.cfg.Audio.RecordingPath(seg.CallID, chunk.Number)
	integrity, err := p.cfg.Audio.Save(path, data)
	if err != nil {
		return chunk, "", fmt.Errorf("store recording: %w", err)
	}
	chunk.LocalPath = integrity.Path
	chunk.SHA256 = integrity.SHA256
	chunk.SizeBytes = integrity.Size
	if err := p.cfg.Ledger.UpdateChunk(ctx, chunk); err != nil {
		p.logger.Error("failed to record chunk integrity", "call_id", seg.CallID, "chunk", chunk.Number, "err", err)
	}
	return chunk, path, nil
}

// classify appends the text to the running transcript, assesses it, records
// the assessment and lets the escalator act on it. It returns the call state
// after the append, or nil when the call has no live state.
func (p *Pipeline) classify(ctx context.Context, log *slog.Logger, chunk *records.Chunk, tr speech.Transcription) (*session.CallState, risk.Assessment, risk.Level) {
	state, err := session.Mutate(ctx, p.cfg.Sessions, chunk.CallID, func(s *session.CallState) error {
		s.AppendTranscript(tr.Text)
		s.LanguageCode = tr.LanguageCode
		return nil
	})
	if err != nil {
		log.Error("failed to append transcript", "err", err)
		return nil, risk.Assessment{}, risk.None
	}

	assessment := p.cfg.Assessor.Assess(ctx, state.Transcript, tr.LanguageCode)
	log.Info("segment classified",
		"category", assessment.Category, "level", assessment.Level,
		"confidence", assessment.Confidence, "source", assessment.Source)

	record := &records.Assessment{
		CallID:         chunk.CallID,
		ChunkNumber:    chunk.Number,
		Category:       assessment.Category,
		Level:          assessment.Level,
		Description:    assessment.Description,
		Confidence:     assessment.Confidence,
		Source:         assessment.Source,
		RiskFactors:    p.riskFactors(ctx, log, chunk.CallID, assessment.Category),
		FollowUpNeeded: assessment.Level.Escalates(),
	}
	if record.FollowUpNeeded {
		record.FollowUpNotes = "High risk case identified: " + string(assessment.Category)
	}
	if err := p.cfg.Ledger.AddAssessment(ctx, record); err != nil {
		log.Error("failed to record assessment", "err", err)
	}

	highest := state.HighestRisk
	decision, err := p.cfg.Escalator.Observe(ctx, chunk.CallID, assessment)
	if err != nil {
		log.Error("escalation failed", "kind", hotline.KindOf(err), "err", err)
	}
	if decision.Change.Current.Exceeds(highest) {
		highest = decision.Change.Current
	}
	if assessment.Level.Exceeds(highest) {
		highest = assessment.Level
	}
	p.syncCall(ctx, log, chunk.CallID, state.Transcript, highest)

	chunk.RiskAssessmentCompleted = true
	if err := p.cfg.Ledger.UpdateChunk(ctx, chunk); err != nil {
		log.Error("failed to update chunk", "err", err)
	}
	return state, assessment, highest
}

// riskFactors lists every category seen on the call so far, once each, in
// first-seen order.
func (p *Pipeline) riskFactors(ctx context.Context, log *slog.Logger, callID string, current risk.Category) []risk.Category {
	prior, err := p.cfg.Ledger.ListAssessments(ctx, callID)
	if err != nil {
		log.Warn("failed to list prior assessments", "err", err)
	}
	seen := make(map[risk.Category]bool, len(prior)+1)
	factors := make([]risk.Category, 0, len(prior)+1)
	for _, a := range prior {
		if !seen[a.Category] {
			seen[a.Category] = true
			factors = append(factors, a.Category)
		}
	}
	if !seen[current] {
		factors = append(factors, current)
	}
	return factors
}

// syncCall mirrors the running transcript and highest risk onto the ledger.
func (p *Pipeline) syncCall(ctx context.Context, log *slog.Logger, callID, transcript string, highest risk.Level) {
	call, err := p.cfg.Ledger.GetCall(ctx, callID)
	if err != nil {
		log.Error("failed to load call record", "err", err)
		return
	}
	call.Transcript = transcript
	call.HighestRisk = risk.Max(call.HighestRisk, highest)
	if err := p.cfg.Ledger.UpdateCall(ctx, call); err != nil {
		log.Error("failed to update call record", "err", err)
	}
}

// synthesize renders text into path and polls for the artifact. It reports
// whether a playable response exists.
func (p *Pipeline) synthesize(ctx context.Context, log *slog.Logger, transcriptLang, text, path string) bool {
	lang, err := p.cfg.Speech.IdentifyLanguage(ctx, text)
	switch {
	case err != nil:
		log.Warn("language identification failed", "fallback", speech.FallbackLanguage, "err", err)
		lang = speech.FallbackLanguage
	case lang == "" && transcriptLang != "":
		lang = transcriptLang
	case lang == "":
		lang = speech.FallbackLanguage
	}

	if err := p.cfg.Audio.Prepare(path); err != nil {
		log.Error("failed to prepare response path", "err", err)
		return false
	}

	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- p.cfg.Speech.Synthesize(synthCtx, lang, text, path)
	}()

	var synthErr error
	finished := false
	outcome := retry.Poll(ctx, p.cfg.Poll, func() bool {
		if !finished {
			select {
			case synthErr = <-done:
				finished = true
			default:
			}
		}
		if finished && synthErr != nil {
			return true
		}
		return p.cfg.Audio.Exists(path)
	})

	switch {
	case synthErr != nil:
		log.Warn("synthesis failed, playing fallback", "kind", hotline.KindOf(synthErr), "err", synthErr)
		return false
	case outcome == retry.TimedOut:
		log.Warn("synthesis timed out, playing fallback", "path", path)
		return false
	}
	if _, err := p.cfg.Audio.Seal(path); err != nil {
		log.Warn("failed to seal response audio", "err", err)
	}
	return true
}

// play marks the chunk as answered with the artifact at path.
func (p *Pipeline) play(ctx context.Context, log *slog.Logger, chunk *records.Chunk, res Result, path string, outcome Outcome) Result {
	ref, err := p.cfg.Audio.Rel(path)
	if err != nil {
		ref = path
	}
	chunk.ResponseAudio = ref
	chunk.ResponsePlayed = true
	p.finish(ctx, log, chunk)

	res.Stage = StagePlayed
	res.Outcome = outcome
	res.AudioPath = path
	return res
}

// finish marks the chunk processed.
func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, chunk *records.Chunk) {
	now := p.now().UTC()
	chunk.Processed = true
	chunk.ProcessedAt = &now
	if err := p.cfg.Ledger.UpdateChunk(ctx, chunk); err != nil {
		log.Error("failed to update chunk", "err", err)
	}
}
