// Package ratelimit implements per-provider call pacing over a rolling time
// window, with adaptive widening when a provider reports throttling. State is
// per-session and in-process; each provider has its own lock so distinct
// providers never serialize against each other.
package ratelimit

import (
	"sync"
	"time"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Defaults for adaptive backoff tuning.
const (
	// DefaultMaxWiden caps the adaptive window multiplier.
	DefaultMaxWiden = 8.0

	// DefaultDecayAfter is the consecutive-success run that steps the
	// multiplier back toward baseline.
	DefaultDecayAfter = 5

	// DefaultJitter is the fractional randomness applied when widening,
	// to avoid synchronized retry bursts.
	DefaultJitter = 0.1
)

// windowState is the mutable per-provider pacing state. All access goes
// through the state's own mutex.
type windowState struct {
	mu sync.Mutex

	policy provider.Policy

	// calls holds timestamps of granted acquisitions, oldest first,
	// pruned to the effective window on every Acquire.
	calls []time.Time

	// widen is the adaptive multiplier on the configured window, >= 1.
	widen float64

	// successStreak counts consecutive successes since the last
	// throttle signal.
	successStreak int
}

// effectiveWindow returns the configured window scaled by the current
// adaptive multiplier.
func (w *windowState) effectiveWindow() time.Duration {
	return time.Duration(float64(w.policy.Window) * w.widen)
}

// prune drops call timestamps that have left the effective window.
func (w *windowState) prune(now time.Time) {
	cutoff := now.Add(-w.effectiveWindow())
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// Snapshot is a read-only view of one provider's pacing state.
type Snapshot struct {
	Provider      string
	CallsInWindow int
	WidenFactor   float64
	NextReadyAt   time.Time
}
