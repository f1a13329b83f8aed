package auth

import (
	"context"
	"time"
)

// DefaultTimingFloor is the minimum response window for authentication
// operations. Differential latency between "subject not found", "wrong
// password", and "malformed request" would let an attacker enumerate
// subjects or distinguish failure causes; padding every response to a fixed
// floor closes that channel to the floor's granularity.
const DefaultTimingFloor = 100 * time.Millisecond

// TimingGuard pads the latency of an operation to a fixed minimum window.
type TimingGuard struct {
	floor time.Duration
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewTimingGuard returns a guard enforcing the given floor. A floor of 0
// disables padding.
func NewTimingGuard(floor time.Duration) *TimingGuard {
	return &TimingGuard{floor: floor, sleep: sleepCtx}
}

// Run executes fn and does not return before the guard's floor has elapsed,
// regardless of whether fn succeeded or how it failed. The pad sleep is
// abandoned if ctx is cancelled — the caller is gone and can no longer
// observe timing.
func (g *TimingGuard) Run(ctx context.Context, fn func() error) error {
	if g == nil || g.floor <= 0 {
		return fn()
	}
	start := time.Now()
	err := fn()
	if remaining := g.floor - time.Since(start); remaining > 0 {
		g.sleep(ctx, remaining)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
