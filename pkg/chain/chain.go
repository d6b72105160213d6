// Package chain implements ordered provider fallback for single-symbol
// acquisition. For each symbol it walks providers in priority order,
// consulting the circuit breaker and rate limiter before every call and the
// error classifier after every failure, until one provider yields a quote or
// all are exhausted.
package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/csaunders4z/market-voice-sub000/pkg/circuit"
	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
	"github.com/csaunders4z/market-voice-sub000/pkg/ratelimit"
)

// Prometheus metrics for chain activity.
var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_fetch_attempts_total",
		Help: "Total fetch attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collector_fetch_duration_seconds",
		Help:    "Fetch attempt duration by provider",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	providersDisabledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_providers_disabled_total",
		Help: "Providers disabled for the session after auth failures",
	}, []string{"provider"})
)

// DefaultRetryBudget is the same-provider retry allowance for transient
// failure kinds.
const DefaultRetryBudget = 2

// Config tunes chain behavior.
type Config struct {
	// RetryBudget caps same-provider retries for transient kinds.
	// Kinds with their own budget in the classifier table override it.
	RetryBudget int
}

// DefaultConfig returns the default chain configuration.
func DefaultConfig() Config {
	return Config{RetryBudget: DefaultRetryBudget}
}

// Chain tries providers in priority order for one symbol at a time.
type Chain struct {
	providers []provider.Provider
	limiter   *ratelimit.Limiter
	breaker   *circuit.Breaker
	cfg       Config
	logger    zerolog.Logger

	// disabled marks providers disqualified for the rest of the session
	// (auth failures). Guarded by mu.
	mu       sync.RWMutex
	disabled map[string]bool

	// now is injectable for tests.
	now func() time.Time
}

// New builds a chain over the given providers, sorted by priority. Each
// provider's rate-limit policy is registered with the limiter.
func New(providers []provider.Provider, limiter *ratelimit.Limiter, breaker *circuit.Breaker, cfg Config, logger zerolog.Logger) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider chain requires at least one provider")
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}

	ordered := make([]provider.Provider, len(providers))
	copy(ordered, providers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	for _, p := range ordered {
		limiter.Register(p.Name(), p.RateLimit())
	}

	return &Chain{
		providers: ordered,
		limiter:   limiter,
		breaker:   breaker,
		cfg:       cfg,
		logger:    logger,
		disabled:  make(map[string]bool),
		now:       time.Now,
	}, nil
}

// Step drives the task forward until it reaches a terminal Result or must
// wait for a rate window. A nil result with a positive yield means the task
// should be handed back after that delay; chain position is preserved in
// the task. Step never blocks on pacing.
func (c *Chain) Step(ctx context.Context, task *Task) (*Result, time.Duration) {
	for task.providerIdx < len(c.providers) {
		if ctx.Err() != nil {
			return c.fail(task, classify.KindTimeout), 0
		}

		p := c.providers[task.providerIdx]
		name := p.Name()

		if c.isDisabled(name) {
			task.advance()
			continue
		}

		// An open circuit skips the provider without charging a retry.
		if !c.breaker.Allow(name) {
			c.logger.Debug().
				Str("provider", name).
				Str("symbol", task.Symbol).
				Msg("Circuit open, skipping provider")
			task.advance()
			continue
		}

		if delay := c.limiter.Acquire(name); delay > 0 {
			// Allow may have reserved a HalfOpen probe slot just now.
			// No call is going out, so the slot goes back before the
			// task parks, or the circuit would hold HalfOpen with its
			// probe claimed until session end.
			c.breaker.ReleaseProbe(name)
			return nil, delay
		}

		result, done := c.attempt(ctx, task, p)
		if done {
			return result, 0
		}
	}

	return c.fail(task, task.lastKind), 0
}

// attempt makes one provider call and applies the classified recovery
// action. Returns (result, true) when the task is terminal, (nil, false)
// when the chain should keep going (same provider or the next one).
func (c *Chain) attempt(ctx context.Context, task *Task, p provider.Provider) (*Result, bool) {
	name := p.Name()
	start := c.now()

	quote, err := p.Fetch(ctx, task.Symbol)
	latency := c.now().Sub(start)
	attemptDuration.WithLabelValues(name).Observe(latency.Seconds())
	task.attempts++

	if err == nil {
		err = validatePayload(quote)
	}

	if err == nil {
		task.History = append(task.History, Attempt{
			Provider: name, At: start, Latency: latency, OK: true,
		})
		c.breaker.RecordOutcome(name, true)
		c.limiter.OnSuccess(name)
		attemptsTotal.WithLabelValues(name, "success").Inc()

		return &Result{
			Symbol:   task.Symbol,
			Quote:    quote,
			Provider: name,
			Attempts: task.History,
		}, true
	}

	cls := classify.Classify(err)
	task.lastKind = cls.Kind
	task.History = append(task.History, Attempt{
		Provider: name, At: start, Latency: latency, Kind: cls.Kind,
	})
	c.breaker.RecordOutcome(name, false)
	attemptsTotal.WithLabelValues(name, string(cls.Kind)).Inc()

	c.logger.Debug().
		Err(err).
		Str("provider", name).
		Str("symbol", task.Symbol).
		Str("kind", string(cls.Kind)).
		Int("attempts", task.attempts).
		Msg("Fetch attempt failed")

	if cls.Recovery.WidenWindow {
		c.limiter.OnRateLimited(name)
	}

	if cls.Recovery.DisableProvider {
		c.disable(name, cls.Kind)
		task.advance()
		return nil, false
	}

	if cls.Recovery.Retry {
		budget := c.cfg.RetryBudget
		if cls.Recovery.RetryBudget >= 0 {
			budget = cls.Recovery.RetryBudget
		}
		// attempts includes the initial call; retries are what follow.
		if task.attempts <= budget {
			return nil, false
		}
	}

	task.advance()
	return nil, false
}

// fail finalizes a task whose providers are exhausted. A task that never
// produced a classified failure (every provider skipped) reports Unknown.
func (c *Chain) fail(task *Task, kind classify.Kind) *Result {
	if kind == "" {
		kind = classify.KindUnknown
	}
	return &Result{
		Symbol:   task.Symbol,
		Failed:   true,
		Kind:     kind,
		Attempts: task.History,
	}
}

// validatePayload rejects quotes whose shape cannot feed downstream
// consumers: a missing quote, or a raw payload that is not valid JSON.
func validatePayload(q *provider.Quote) error {
	if q == nil {
		return classify.ErrBadPayload
	}
	if len(q.Raw) > 0 && !gjson.ValidBytes(q.Raw) {
		return fmt.Errorf("%s: %w", q.Source, classify.ErrBadPayload)
	}
	return nil
}

// Providers returns the chain's providers in priority order.
func (c *Chain) Providers() []provider.Provider {
	out := make([]provider.Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Disabled reports whether a provider has been disqualified this session.
func (c *Chain) Disabled(name string) bool {
	return c.isDisabled(name)
}

func (c *Chain) isDisabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled[name]
}

func (c *Chain) disable(name string, kind classify.Kind) {
	c.mu.Lock()
	already := c.disabled[name]
	c.disabled[name] = true
	c.mu.Unlock()

	if already {
		return
	}
	providersDisabledTotal.WithLabelValues(name).Inc()
	c.logger.Error().
		Str("provider", name).
		Str("kind", string(kind)).
		Msg("Provider disabled for the remainder of the session")
}

// SetClock replaces the time source (for testing).
func (c *Chain) SetClock(now func() time.Time) {
	c.now = now
}
