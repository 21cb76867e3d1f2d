package source

import (
	"context"
	"time"

	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/errors"
)

// Backoff is a deterministic exponential backoff policy. Successive delays
// never decrease, so throttled vendors see strictly widening gaps until the
// cap is reached.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoff builds a policy from the reliability section.
func NewBackoff(rc config.ReliabilityConfig) Backoff {
	return Backoff{
		Base:       rc.BackoffBase,
		Max:        rc.BackoffMax,
		Multiplier: rc.BackoffMultiplier,
	}
}

// Delay returns the delay before retry number attempt (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Sleep blocks for the given retry's delay, aborting on cancellation.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "cancelled during backoff")
	}
}
