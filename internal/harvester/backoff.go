package harvester

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter for transient fetch
// retries. A success resets the sequence. Not safe for concurrent use;
// each target's fetch loop owns its own instance.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff creates a backoff sequence. Non-positive bounds fall back to
// sane defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 2 * time.Minute
	}
	return &Backoff{initial: initial, max: max}
}

// Next returns the delay before the upcoming retry and advances the
// sequence. The delay doubles each attempt, capped at the maximum, with
// up to 25% random jitter added so synchronized workers fan out.
func (b *Backoff) Next() time.Duration {
	delay := b.initial << b.attempt
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	b.attempt++

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// Reset restarts the sequence after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits out the next delay, returning early with the context's error
// on cancellation. It reports the slept duration for metrics.
func (b *Backoff) Sleep(ctx context.Context) (time.Duration, error) {
	delay := b.Next()
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return 0, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}
