package harvester

import (
	"context"
	"sync"
	"time"
)

// BlockState is the shared cooldown gate opened when the source blocks the
// harvester. One instance is handed to every engine in the process; there
// is no package-level singleton. Engines check the gate before each fetch
// and trip it when they see a block, so one blocked worker pauses all of
// them.
type BlockState struct {
	mu    sync.Mutex
	until time.Time
}

// NewBlockState creates an open gate.
func NewBlockState() *BlockState {
	return &BlockState{}
}

// Trip opens a cooldown for the given duration. Overlapping trips extend
// the cooldown rather than shortening it. Returns the instant the cooldown
// elapses.
func (b *BlockState) Trip(d time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidate := time.Now().Add(d)
	if candidate.After(b.until) {
		b.until = candidate
	}
	return b.until
}

// Remaining returns how long the cooldown has left, and whether one is
// active at all.
func (b *BlockState) Remaining() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	left := time.Until(b.until)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Wait blocks until the cooldown elapses or the context is cancelled.
// Re-checks after sleeping because another worker may have extended the
// cooldown in the meantime.
func (b *BlockState) Wait(ctx context.Context) error {
	for {
		left, blocked := b.Remaining()
		if !blocked {
			return nil
		}
		timer := time.NewTimer(left)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
