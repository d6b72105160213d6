// Package circuit implements the per-provider availability gate. A provider
// that fails repeatedly is taken out of rotation (Open), probed once after a
// cooldown (HalfOpen), and restored on a successful probe (Closed). This is
// the only path that mutates circuit state.
package circuit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for circuit breaker activity.
var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collector_circuit_state",
		Help: "Circuit state by provider (0=closed, 1=open, 2=half-open)",
	}, []string{"provider"})

	tripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_circuit_trips_total",
		Help: "Total circuit transitions to open by provider",
	}, []string{"provider"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_circuit_rejections_total",
		Help: "Total calls rejected by an open circuit by provider",
	}, []string{"provider"})
)

// State is the circuit position for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for breaker tuning. The failure threshold is deliberately a
// tunable with a default rather than a constant.
const (
	DefaultFailureThreshold = 5
	DefaultBaseCooldown     = 2 * time.Second
	DefaultMaxCooldown      = 60 * time.Second
)

// Config tunes breaker behavior. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// BaseCooldown is the open duration after the first trip. It doubles
	// on each subsequent trip.
	BaseCooldown time.Duration

	// MaxCooldown caps cooldown growth.
	MaxCooldown time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		BaseCooldown:     DefaultBaseCooldown,
		MaxCooldown:      DefaultMaxCooldown,
	}
}

// breakerState is the mutable per-provider circuit state, guarded by its
// own mutex so providers never serialize against each other.
type breakerState struct {
	mu sync.Mutex

	state    State
	failures int

	// cooldown is the current open duration; doubles per trip up to the
	// configured cap, resets to base on a successful probe.
	cooldown  time.Duration
	openUntil time.Time

	// probeInFlight is set while the single HalfOpen trial call is out.
	probeInFlight bool
}

// Breaker gates calls per provider through a Closed/Open/HalfOpen state
// machine.
type Breaker struct {
	mu     sync.RWMutex
	states map[string]*breakerState

	cfg    Config
	logger zerolog.Logger

	// now is injectable for simulated-clock tests.
	now func() time.Time
}

// NewBreaker creates a breaker with the given tuning.
func NewBreaker(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = DefaultBaseCooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = DefaultMaxCooldown
	}
	return &Breaker{
		states: make(map[string]*breakerState),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether a call to the named provider may proceed. An Open
// circuit whose cooldown has elapsed moves to HalfOpen and admits exactly
// one probe; concurrent callers are rejected until the probe resolves.
func (b *Breaker) Allow(name string) bool {
	st := b.state(name)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(st.openUntil) {
			rejectionsTotal.WithLabelValues(name).Inc()
			return false
		}
		b.transition(name, st, StateHalfOpen)
		st.probeInFlight = true
		return true
	case StateHalfOpen:
		if st.probeInFlight {
			rejectionsTotal.WithLabelValues(name).Inc()
			return false
		}
		st.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordOutcome feeds the result of one call back into the state machine.
// Counters are updated exactly once per attempt.
func (b *Breaker) RecordOutcome(name string, success bool) {
	st := b.state(name)

	st.mu.Lock()
	defer st.mu.Unlock()

	if success {
		switch st.state {
		case StateHalfOpen:
			// A single successful probe fully closes the circuit.
			st.probeInFlight = false
			st.failures = 0
			st.cooldown = b.cfg.BaseCooldown
			b.transition(name, st, StateClosed)
		case StateClosed:
			st.failures = 0
		}
		return
	}

	st.failures++

	switch st.state {
	case StateClosed:
		if st.failures >= b.cfg.FailureThreshold {
			b.trip(name, st)
		}
	case StateHalfOpen:
		st.probeInFlight = false
		st.cooldown = st.cooldown * 2
		if st.cooldown > b.cfg.MaxCooldown {
			st.cooldown = b.cfg.MaxCooldown
		}
		b.trip(name, st)
	}
}

// ReleaseProbe returns a HalfOpen probe slot that Allow granted but the
// caller never used, so the next caller can take the trial call. Without
// this a caller that backs out after Allow (say, to wait on a rate window)
// would leave the circuit HalfOpen with its probe reserved forever.
func (b *Breaker) ReleaseProbe(name string) {
	st := b.state(name)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateHalfOpen {
		st.probeInFlight = false
	}
}

// State returns the current circuit position for the named provider.
func (b *Breaker) State(name string) State {
	st := b.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// SetClock replaces the time source (for testing).
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

// trip opens the circuit for the current cooldown. Caller holds st.mu.
func (b *Breaker) trip(name string, st *breakerState) {
	st.openUntil = b.now().Add(st.cooldown)
	b.transition(name, st, StateOpen)
	tripsTotal.WithLabelValues(name).Inc()

	b.logger.Warn().
		Str("provider", name).
		Int("failures", st.failures).
		Dur("cooldown", st.cooldown).
		Time("open_until", st.openUntil).
		Msg("Circuit opened")
}

// transition moves the circuit and records the gauge. Caller holds st.mu.
func (b *Breaker) transition(name string, st *breakerState, to State) {
	from := st.state
	st.state = to
	stateGauge.WithLabelValues(name).Set(float64(to))

	if from != to {
		b.logger.Info().
			Str("provider", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit state change")
	}
}

// state returns the per-provider state, creating it lazily.
func (b *Breaker) state(name string) *breakerState {
	b.mu.RLock()
	st, ok := b.states[name]
	b.mu.RUnlock()
	if ok {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.states[name]; ok {
		return st
	}
	st = &breakerState{state: StateClosed, cooldown: b.cfg.BaseCooldown}
	b.states[name] = st
	return st
}
