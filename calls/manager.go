// Package calls owns the lifecycle of a call: it creates the call at the
// telephony provider's first webhook, runs every recorded segment through the
// pipeline and closes the call when the provider reports its end.
package calls

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/pipeline"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/risk"
	"github.com/creastat/hotline/session"
)

// SegmentProcessor runs one segment. pipeline.Pipeline satisfies it.
type SegmentProcessor interface {
	Process(ctx context.Context, seg pipeline.Segment) (pipeline.Result, error)
}

// Started describes an inbound call.
type Started struct {
	ProviderCallID string
	CallerNumber   string
	Geo            hotline.Geo
}

// Ended describes a provider status change.
type Ended struct {
	ProviderCallID string
	Status         hotline.CallStatus
	// DurationSeconds as reported by the provider; zero when unknown.
	DurationSeconds int
}

// Config wires a Manager.
type Config struct {
	Ledger   records.Store
	Sessions session.Store
	Pipeline SegmentProcessor
	Logger   *slog.Logger
}

// Manager is the Call Session Manager.
type Manager struct {
	ledger   records.Store
	sessions session.Store
	pipeline SegmentProcessor
	locks    *keyedMutex
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Ledger == nil || cfg.Sessions == nil || cfg.Pipeline == nil {
		return nil, fmt.Errorf("calls: ledger, sessions and pipeline are required: %w", hotline.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ledger:   cfg.Ledger,
		sessions: cfg.Sessions,
		pipeline: cfg.Pipeline,
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CallerKey derives the memory partition key for a phone number.
func CallerKey(number string) string {
	sum := sha256.Sum256([]byte(number))
	return hex.EncodeToString(sum[:])
}

// OnCallStarted records an inbound call and tells the provider to start
// recording straight away. A retried webhook for a known provider call id
// returns the existing call.
func (m *Manager) OnCallStarted(ctx context.Context, s Started) (Instruction, *records.Call, error) {
	if s.ProviderCallID == "" {
		return Instruction{}, nil, fmt.Errorf("call started: provider call id is required")
	}

	call, err := m.ledger.FindCallByProviderID(ctx, s.ProviderCallID)
	switch {
	case err == nil:
		if err := m.ensureSession(ctx, call); err != nil {
			return Instruction{}, nil, err
		}
		return record(call.ID), call, nil
	case !errors.Is(err, hotline.ErrNotFound):
		return Instruction{}, nil, fmt.Errorf("find call: %w", err)
	}

	now := m.now().UTC()
	call = &records.Call{
		ProviderCallID: s.ProviderCallID,
		CallerNumber:   s.CallerNumber,
		Geo:            s.Geo,
		Status:         hotline.StatusInProgress,
		StartedAt:      now,
	}
	if err := m.ledger.CreateCall(ctx, call); err != nil {
		if !errors.Is(err, hotline.ErrDuplicate) {
			return Instruction{}, nil, fmt.Errorf("create call: %w", err)
		}
		// Lost a race with a concurrent retry of the same webhook.
		if call, err = m.ledger.FindCallByProviderID(ctx, s.ProviderCallID); err != nil {
			return Instruction{}, nil, fmt.Errorf("find call: %w", err)
		}
	}
	if err := m.ensureSession(ctx, call); err != nil {
		return Instruction{}, nil, err
	}

	m.logger.Info("call started", "call_id", call.ID, "provider_call_id", call.ProviderCallID, "location", call.Geo.String())
	return record(call.ID), call, nil
}

func (m *Manager) ensureSession(ctx context.Context, call *records.Call) error {
	existing, err := m.sessions.Get(ctx, call.ID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if existing != nil || call.Status.Terminal() {
		return nil
	}
	err = m.sessions.Create(ctx, &session.CallState{
		ID:             call.ID,
		ProviderCallID: call.ProviderCallID,
		CallerNumber:   call.CallerNumber,
		CallerKey:      CallerKey(call.CallerNumber),
		Geo:            call.Geo,
		Status:         call.Status,
		StartedAt:      call.StartedAt,
		Transcript:     call.Transcript,
		HighestRisk:    call.HighestRisk,
	})
	if err != nil && !errors.Is(err, hotline.ErrDuplicate) {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// OnSegmentReady runs a recorded segment through the pipeline and returns
// the next instruction. Segments of one call are processed one at a time.
// It never fails: the worst outcome is to resume recording.
func (m *Manager) OnSegmentReady(ctx context.Context, seg pipeline.Segment) Instruction {
	unlock := m.locks.Lock(seg.CallID)
	defer unlock()

	log := m.logger.With("call_id", seg.CallID)
	res, err := m.pipeline.Process(ctx, seg)
	if err != nil {
		log.Error("segment processing failed", "kind", hotline.KindOf(err), "err", err)
		return record(seg.CallID)
	}

	if res.Outcome == pipeline.OutcomeSilent {
		return Instruction{Action: ActionRecord, CallID: seg.CallID, Beep: true}
	}

	if res.ShouldEnd {
		if res.HighestRisk.Escalates() {
			log.Warn("keeping high risk call open despite closing reply", "level", res.HighestRisk)
		} else {
			log.Info("conversation closed naturally", "chunk", res.ChunkNumber)
			if res.Outcome == pipeline.OutcomeNoReply {
				return Instruction{Action: ActionHangup, CallID: seg.CallID}
			}
			return Instruction{Action: ActionPlayHangup, CallID: seg.CallID, Audio: res.AudioPath}
		}
	}
	if res.Outcome == pipeline.OutcomeNoReply {
		return record(seg.CallID)
	}
	return Instruction{Action: ActionPlayRecord, CallID: seg.CallID, Audio: res.AudioPath}
}

// OnCallEnded applies a provider status change. Terminal statuses stamp the
// end time and duration, finalize counters and release the live state.
func (m *Manager) OnCallEnded(ctx context.Context, e Ended) (*records.Call, error) {
	call, err := m.ledger.FindCallByProviderID(ctx, e.ProviderCallID)
	if err != nil {
		return nil, fmt.Errorf("find call: %w", err)
	}

	unlock := m.locks.Lock(call.ID)
	defer unlock()

	// Re-read under the lock so counters include a segment that just finished.
	if call, err = m.ledger.GetCall(ctx, call.ID); err != nil {
		return nil, fmt.Errorf("reload call: %w", err)
	}
	if call.Status.Terminal() {
		return call, nil
	}
	if !call.Status.Advances(e.Status) {
		m.logger.Debug("ignoring out of order call status", "call_id", call.ID, "status", call.Status, "reported", e.Status)
		return call, nil
	}
	call.Status = e.Status
	if !e.Status.Terminal() {
		if err := m.ledger.UpdateCall(ctx, call); err != nil {
			return nil, fmt.Errorf("update call: %w", err)
		}
		return call, nil
	}

	now := m.now().UTC()
	call.EndedAt = &now
	call.DurationSeconds = e.DurationSeconds
	if call.DurationSeconds <= 0 {
		call.DurationSeconds = int(now.Sub(call.StartedAt).Seconds())
	}

	stats, err := m.ledger.ChunkStats(ctx, call.ID)
	if err != nil {
		m.logger.Error("failed to count chunks", "call_id", call.ID, "err", err)
	} else {
		call.SegmentsProcessed = stats.Processed
		call.ResponsesPlayed = stats.ResponsesPlayed
	}

	state, err := m.sessions.Get(ctx, call.ID)
	if err != nil {
		m.logger.Error("failed to load session", "call_id", call.ID, "err", err)
	}
	if state != nil {
		call.HighestRisk = risk.Max(call.HighestRisk, state.HighestRisk)
		if state.Transcript != "" {
			call.Transcript = state.Transcript
		}
	}

	if err := m.ledger.UpdateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("update call: %w", err)
	}
	if state != nil {
		if err := m.sessions.Delete(ctx, call.ID); err != nil {
			m.logger.Warn("failed to release session", "call_id", call.ID, "err", err)
		}
	}

	m.logger.Info("call ended",
		"call_id", call.ID, "status", call.Status, "duration_seconds", call.DurationSeconds,
		"segments", call.SegmentsProcessed, "responses", call.ResponsesPlayed, "highest_risk", call.HighestRisk)
	return call, nil
}
