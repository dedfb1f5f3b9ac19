package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Submitter runs background work. background.Runner satisfies it.
type Submitter interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Turn is one caller utterance and the reply already chosen for it.
type Turn struct {
	CallID    string
	UserText  string
	ReplyText string
}

// Stats are cumulative validation counters.
type Stats struct {
	Checks     int64
	Violations int64
	Errors     int64
}

// Validator is the Safety Validator.
type Validator struct {
	scorer     Scorer
	background Submitter
	threshold  float64
	logger     *slog.Logger

	checks     atomic.Int64
	violations atomic.Int64
	errors     atomic.Int64
}

// NewValidator creates a Validator. A non-positive threshold uses
// DefaultThreshold.
func NewValidator(scorer Scorer, background Submitter, threshold float64, logger *slog.Logger) *Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{scorer: scorer, background: background, threshold: threshold, logger: logger}
}

// Submit queues one background task per policy and returns immediately.
func (v *Validator) Submit(turn Turn) {
	for _, policy := range Policies {
		name := "safety." + policy.Name
		if !v.background.Go(name, func(ctx context.Context) error {
			return v.check(ctx, policy, turn)
		}) {
			v.logger.Warn("safety check dropped", "call_id", turn.CallID, "policy", policy.Name)
		}
	}
}

// check scores both sides of the turn concurrently.
func (v *Validator) check(ctx context.Context, policy Policy, turn Turn) error {
	sides := []struct {
		role string
		text string
	}{
		{"user", turn.UserText},
		{"assistant", turn.ReplyText},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range sides {
		if side.text == "" {
			continue
		}
		g.Go(func() error {
			v.checks.Add(1)
			score, err := v.scorer.Score(gctx, policy, side.text)
			if err != nil {
				v.errors.Add(1)
				return fmt.Errorf("%s %s: %w", policy.Name, side.role, err)
			}
			if score >= v.threshold {
				v.violations.Add(1)
				v.logger.Warn("safety policy violation",
					"call_id", turn.CallID, "policy", policy.Name, "role", side.role, "score", score)
				return nil
			}
			v.logger.Debug("safety policy passed",
				"call_id", turn.CallID, "policy", policy.Name, "role", side.role, "score", score)
			return nil
		})
	}
	return g.Wait()
}

// Stats returns a snapshot of the counters.
func (v *Validator) Stats() Stats {
	return Stats{
		Checks:     v.checks.Load(),
		Violations: v.violations.Load(),
		Errors:     v.errors.Load(),
	}
}
