// Package retry provides a bounded poll primitive for waiting on results that
// materialize asynchronously.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome is the result of a poll.
type Outcome int

const (
	// TimedOut means the condition never held within the policy bounds.
	TimedOut Outcome = iota
	// Ready means the condition held.
	Ready
)

func (o Outcome) String() string {
	if o == Ready {
		return "ready"
	}
	return "timed_out"
}

// Policy bounds a poll. Zero fields take the defaults below.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Default poll bounds.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 20
	DefaultTimeout     = 10 * time.Second
)

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

var errNotReady = errors.New("not ready")

// Poll evaluates check at a fixed interval until it returns true, the
// attempts are spent, the timeout elapses or ctx is cancelled. check is
// evaluated at least once.
func Poll(ctx context.Context, p Policy, check func() bool) Outcome {
	p = p.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		if check() {
			return nil
		}
		return errNotReady
	}, b)
	if err != nil {
		return TimedOut
	}
	return Ready
}
