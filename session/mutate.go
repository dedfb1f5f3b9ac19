package session

import (
	"context"
	"errors"

	"github.com/creastat/hotline"
	"github.com/creastat/hotline/risk"
)

// ErrUnchanged may be returned by a Mutate callback to skip the write.
var ErrUnchanged = errors.New("call state unchanged")

// maxMutateAttempts bounds the optimistic retry loop.
const maxMutateAttempts = 16

// Mutate loads a call, applies fn and writes it back, retrying from a fresh
// read on version conflicts. If fn returns ErrUnchanged the freshly read state
// is returned without writing.
func Mutate(ctx context.Context, store Store, id string, fn func(*CallState) error) (*CallState, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		state, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if state == nil {
			return nil, hotline.ErrNotFound
		}

		if err := fn(state); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return state, nil
			}
			return nil, err
		}

		err = store.Update(ctx, state)
		if errors.Is(err, hotline.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return state, nil
	}
	return nil, hotline.ErrVersionConflict
}

// RiskChange reports the outcome of RaiseRisk.
type RiskChange struct {
	Previous risk.Level
	Current  risk.Level
	Raised   bool
}

// RaiseRisk is the atomic compare-and-update of a call's highest risk level.
// The stored level is replaced only when level is strictly more severe.
func RaiseRisk(ctx context.Context, store Store, id string, level risk.Level) (RiskChange, error) {
	var change RiskChange
	state, err := Mutate(ctx, store, id, func(s *CallState) error {
		change = RiskChange{Previous: s.HighestRisk, Current: s.HighestRisk}
		if !level.Exceeds(s.HighestRisk) {
			return ErrUnchanged
		}
		s.HighestRisk = level
		change.Current = level
		change.Raised = true
		return nil
	})
	if err != nil {
		return RiskChange{}, err
	}
	change.Current = state.HighestRisk
	return change, nil
}
