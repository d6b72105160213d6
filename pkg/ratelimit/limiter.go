package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Prometheus metrics for rate limit pacing.
var (
	acquireDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collector_ratelimit_delay_seconds",
		Help:    "Delay returned by Acquire before a provider call may proceed",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_ratelimit_throttled_total",
		Help: "Total acquisitions deferred because the rolling window was full",
	}, []string{"provider"})

	widenFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collector_ratelimit_widen_factor",
		Help: "Current adaptive window multiplier by provider",
	}, []string{"provider"})
)

// Config tunes adaptive backoff behavior. Zero values fall back to the
// package defaults.
type Config struct {
	// MaxWiden caps the adaptive window multiplier.
	MaxWiden float64

	// DecayAfter is the consecutive-success count that steps the widen
	// multiplier back toward 1.
	DecayAfter int

	// Jitter is the fractional randomness applied on widening.
	Jitter float64
}

// DefaultConfig returns the default adaptive backoff configuration.
func DefaultConfig() Config {
	return Config{
		MaxWiden:   DefaultMaxWiden,
		DecayAfter: DefaultDecayAfter,
		Jitter:     DefaultJitter,
	}
}

// Limiter paces calls per provider over a rolling window. Acquire never
// blocks: it either records the call and returns zero, or returns the
// duration after which the caller should try again, so the scheduler can
// reassign the worker instead of idling it.
type Limiter struct {
	mu     sync.RWMutex
	states map[string]*windowState

	cfg    Config
	logger zerolog.Logger

	// now is injectable for simulated-clock tests.
	now func() time.Time
}

// NewLimiter creates a limiter with the given tuning.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.MaxWiden < 1 {
		cfg.MaxWiden = DefaultMaxWiden
	}
	if cfg.DecayAfter <= 0 {
		cfg.DecayAfter = DefaultDecayAfter
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = DefaultJitter
	}
	return &Limiter{
		states: make(map[string]*windowState),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Register declares a provider's call budget. Must be called once per
// provider before Acquire; re-registering resets its pacing state.
func (l *Limiter) Register(name string, policy provider.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[name] = &windowState{policy: policy, widen: 1}
	widenFactor.WithLabelValues(name).Set(1)
}

// Acquire reports whether a call to the named provider may proceed now.
// A zero return means the call slot was granted and its timestamp recorded.
// A positive return is the wait until the oldest in-window call expires;
// nothing is recorded in that case.
func (l *Limiter) Acquire(name string) time.Duration {
	st := l.state(name)
	if st == nil {
		// Unregistered providers are unpaced.
		return 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.now()
	st.prune(now)

	if st.policy.MaxCalls <= 0 || len(st.calls) < st.policy.MaxCalls {
		st.calls = append(st.calls, now)
		acquireDelaySeconds.WithLabelValues(name).Observe(0)
		return 0
	}

	delay := st.calls[0].Add(st.effectiveWindow()).Sub(now)
	if delay < 0 {
		delay = 0
	}
	throttledTotal.WithLabelValues(name).Inc()
	acquireDelaySeconds.WithLabelValues(name).Observe(delay.Seconds())

	l.logger.Debug().
		Str("provider", name).
		Dur("delay", delay).
		Int("calls_in_window", len(st.calls)).
		Float64("widen", st.widen).
		Msg("Rate window full, deferring call")

	return delay
}

// OnRateLimited widens the provider's effective window after an upstream
// throttle signal. Exponential with a capped multiplier and small jitter.
func (l *Limiter) OnRateLimited(name string) {
	st := l.state(name)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.successStreak = 0
	next := st.widen * 2
	if next > l.cfg.MaxWiden {
		next = l.cfg.MaxWiden
	}
	// Jitter desynchronizes providers that trip at the same moment.
	next *= 1 + l.cfg.Jitter*rand.Float64()
	if next > l.cfg.MaxWiden {
		next = l.cfg.MaxWiden
	}
	st.widen = next
	widenFactor.WithLabelValues(name).Set(st.widen)

	l.logger.Warn().
		Str("provider", name).
		Float64("widen", st.widen).
		Dur("effective_window", st.effectiveWindow()).
		Msg("Provider throttling, widening rate window")
}

// OnSuccess records a successful call; a run of successes decays the widen
// multiplier back toward the configured baseline.
func (l *Limiter) OnSuccess(name string) {
	st := l.state(name)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.widen <= 1 {
		return
	}
	st.successStreak++
	if st.successStreak < l.cfg.DecayAfter {
		return
	}
	st.successStreak = 0
	st.widen /= 2
	if st.widen < 1 {
		st.widen = 1
	}
	widenFactor.WithLabelValues(name).Set(st.widen)

	l.logger.Debug().
		Str("provider", name).
		Float64("widen", st.widen).
		Msg("Sustained successes, decaying rate window")
}

// SnapshotOf returns a read-only view of one provider's pacing state, or
// nil if the provider is not registered.
func (l *Limiter) SnapshotOf(name string) *Snapshot {
	st := l.state(name)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.now()
	st.prune(now)

	snap := &Snapshot{
		Provider:      name,
		CallsInWindow: len(st.calls),
		WidenFactor:   st.widen,
	}
	if st.policy.MaxCalls > 0 && len(st.calls) >= st.policy.MaxCalls {
		snap.NextReadyAt = st.calls[0].Add(st.effectiveWindow())
	}
	return snap
}

// SetClock replaces the time source (for testing).
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) state(name string) *windowState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.states[name]
}
