// Package escalation keeps a call's highest risk level monotonic and alerts
// emergency contacts exactly once per call when it first reaches high risk.
package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/records"
	"github.com/creastat/hotline/risk"
	"github.com/creastat/hotline/session"
)

// Submitter runs background work. background.Runner satisfies it.
type Submitter interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Decision is the outcome of observing one assessment.
type Decision struct {
	Change session.RiskChange
	// Escalated is true when this observation won the escalation claim and
	// queued the fan-out.
	Escalated bool
}

// Escalator is the Cumulative Risk Escalator.
type Escalator struct {
	sessions   session.Store
	ledger     records.Store
	fanout     *FanOut
	background Submitter
	logger     *slog.Logger
}

// NewEscalator creates an Escalator.
func NewEscalator(sessions session.Store, ledger records.Store, fanout *FanOut, background Submitter, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		sessions:   sessions,
		ledger:     ledger,
		fanout:     fanout,
		background: background,
		logger:     logger,
	}
}

// Observe folds an assessment into the call's highest risk level. When the
// assessment is high or critical it claims the call's automatic escalation;
// only the first claim dispatches the fan-out. A claim whose fan-out cannot be
// queued is released. A failed claim or dispatch never rolls back the risk
// level.
func (e *Escalator) Observe(ctx context.Context, callID string, a risk.Assessment) (Decision, error) {
	change, err := session.RaiseRisk(ctx, e.sessions, callID, a.Level)
	if err != nil {
		return Decision{}, fmt.Errorf("raise risk: %w", err)
	}
	d := Decision{Change: change}
	if change.Raised {
		e.logger.Info("call risk raised", "call_id", callID, "from", change.Previous, "to", change.Current)
	}
	if !a.Level.Escalates() {
		return d, nil
	}

	won, err := e.ledger.ClaimEscalation(ctx, &records.Escalation{
		CallID:     callID,
		Trigger:    records.TriggerRiskAssessment,
		Level:      a.Level,
		Category:   a.Category,
		Confidence: a.Confidence,
	})
	if err != nil {
		return d, hotline.Wrap(fmt.Errorf("claim escalation: %w", err), hotline.KindEscalation)
	}
	if !won {
		e.logger.Debug("escalation already claimed", "call_id", callID, "level", a.Level)
		return d, nil
	}

	e.logger.Error("automatic escalation triggered",
		"call_id", callID, "level", a.Level, "category", a.Category, "confidence", a.Confidence)

	queued := e.background.Go("escalation.fanout", func(ctx context.Context) error {
		return e.dispatch(ctx, callID, a)
	})
	if !queued {
		// Give the claim back so the next high assessment dispatches.
		if err := e.ledger.ReleaseEscalation(ctx, callID, records.TriggerRiskAssessment); err != nil {
			e.logger.Error("failed to release undispatched escalation", "call_id", callID, "err", err)
		}
		return d, hotline.Wrap(fmt.Errorf("escalation fan-out for call %s dropped", callID), hotline.KindEscalation)
	}
	d.Escalated = true
	return d, nil
}

// dispatch alerts every contact and records one attempt per contact.
func (e *Escalator) dispatch(ctx context.Context, callID string, a risk.Assessment) error {
	call, err := e.ledger.GetCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("load call for alert: %w", err)
	}

	alert := Alert{
		CallID:       callID,
		CallerNumber: call.CallerNumber,
		Geo:          call.Geo,
		CallStarted:  call.StartedAt,
		Level:        a.Level,
		Category:     a.Category,
		Confidence:   a.Confidence,
	}
	outcomes := e.fanout.Notify(ctx, alert)

	attempts := make([]records.ContactAttempt, 0, len(outcomes))
	for _, o := range outcomes {
		attempts = append(attempts, records.ContactAttempt{
			CallID:       callID,
			Trigger:      records.TriggerRiskAssessment,
			ContactName:  o.Contact.Name,
			ContactPhone: o.Contact.Phone,
			ContactType:  o.Contact.Type,
			Reached:      o.Reached,
			ProviderRef:  o.Ref,
			Notes:        Notes(alert, o),
			AttemptedAt:  o.At,
		})
	}
	if err := e.ledger.AddContactAttempts(ctx, attempts); err != nil {
		return fmt.Errorf("record contact attempts: %w", err)
	}
	return nil
}
