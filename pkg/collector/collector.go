// Package collector drives acquisition sessions: it partitions the symbol
// set into fixed-size batches, runs each batch on a bounded worker pool, and
// flushes the aggregator between batches so memory stays bounded to one
// batch regardless of universe size.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/csaunders4z/market-voice-sub000/pkg/aggregate"
	"github.com/csaunders4z/market-voice-sub000/pkg/chain"
	"github.com/csaunders4z/market-voice-sub000/pkg/circuit"
	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
	"github.com/csaunders4z/market-voice-sub000/pkg/logging"
	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
	"github.com/csaunders4z/market-voice-sub000/pkg/ratelimit"
)

// Prometheus metrics for session execution.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_sessions_total",
		Help: "Total sessions by terminal status",
	}, []string{"status"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_batch_duration_seconds",
		Help:    "Wall time per completed batch",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Terminal session errors. Per-symbol failures are reported as data in the
// session report, never through these.
var (
	// ErrNoProviders is returned when a session is started with an empty
	// provider set.
	ErrNoProviders = errors.New("no providers configured")

	// ErrDeadlineBeforeFirstBatch is returned when the global deadline
	// elapses before a single batch completes; no partial result is
	// meaningful in that case.
	ErrDeadlineBeforeFirstBatch = errors.New("deadline elapsed before first batch completed")
)

// Defaults for session configuration.
const (
	DefaultBatchSize      = 50
	DefaultMaxConcurrency = 10
	DefaultTimeout        = 5 * time.Minute
)

// Config holds per-session tuning. Zero values fall back to defaults.
type Config struct {
	// BatchSize is the number of symbols processed per batch.
	BatchSize int `json:"batch_size"`

	// MaxConcurrency bounds the worker pool within a batch.
	MaxConcurrency int `json:"max_concurrency"`

	// Timeout is the global session deadline.
	Timeout time.Duration `json:"timeout"`

	// RetryBudget caps same-provider retries for transient failures.
	RetryBudget int `json:"retry_budget"`

	// RateLimit tunes adaptive pacing backoff.
	RateLimit ratelimit.Config `json:"-"`

	// Circuit tunes per-provider breaker thresholds and cooldowns.
	Circuit circuit.Config `json:"-"`
}

// DefaultConfig returns a safe default session configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		MaxConcurrency: DefaultMaxConcurrency,
		Timeout:        DefaultTimeout,
		RetryBudget:    chain.DefaultRetryBudget,
		RateLimit:      ratelimit.DefaultConfig(),
		Circuit:        circuit.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = chain.DefaultRetryBudget
	}
}

// Collector runs acquisition sessions over a configured provider set.
type Collector struct {
	providers []provider.Provider
	cfg       Config
	logger    zerolog.Logger
}

// New creates a collector. The provider set must not be empty.
func New(providers []provider.Provider, cfg Config, logger zerolog.Logger) (*Collector, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	cfg.applyDefaults()
	return &Collector{
		providers: providers,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run executes one session over the given symbols. Every requested symbol
// has exactly one terminal result in the returned report; symbols still
// pending when the deadline fires are finalized with a timeout kind.
func (c *Collector) Run(ctx context.Context, symbols []string) (*Session, error) {
	session := &Session{
		ID:        uuid.New(),
		Symbols:   symbols,
		Config:    c.cfg,
		StartedAt: time.Now(),
	}
	logger := logging.WithSession(c.logger, session.ID.String())

	// Engine state is built fresh per session; nothing carries across runs.
	limiter := ratelimit.NewLimiter(c.cfg.RateLimit, logger)
	breaker := circuit.NewBreaker(c.cfg.Circuit, logger)
	fallback, err := chain.New(c.providers, limiter, breaker,
		chain.Config{RetryBudget: c.cfg.RetryBudget}, logger)
	if err != nil {
		sessionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build provider chain: %w", err)
	}
	agg := aggregate.New(logger)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	logger.Info().
		Int("symbols", len(symbols)).
		Int("batch_size", c.cfg.BatchSize).
		Int("max_concurrency", c.cfg.MaxConcurrency).
		Dur("timeout", c.cfg.Timeout).
		Msg("Session starting")

	completedBatches := 0
	deadlineHit := false

	for start := 0; start < len(symbols); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		batchStart := time.Now()
		completed := c.runBatch(ctx, fallback, agg, batch)

		// The memory-bounding checkpoint: batch n is fully reclaimed
		// before batch n+1 starts.
		agg.Flush()

		if !completed {
			deadlineHit = true
			// No further batches start; the rest of the universe is
			// finalized as timed out so every symbol has a result.
			// Chunked at batch size so the flush buffer keeps its
			// one-batch bound even for large universes.
			for rest := end; rest < len(symbols); rest += c.cfg.BatchSize {
				restEnd := rest + c.cfg.BatchSize
				if restEnd > len(symbols) {
					restEnd = len(symbols)
				}
				for _, sym := range symbols[rest:restEnd] {
					agg.Accept(timeoutResult(sym, nil))
				}
				agg.Flush()
			}
			break
		}

		completedBatches++
		batchDuration.Observe(time.Since(batchStart).Seconds())
		logger.Debug().
			Int("batch_start", start).
			Int("batch_len", len(batch)).
			Dur("duration", time.Since(batchStart)).
			Msg("Batch complete")
	}

	if deadlineHit && completedBatches == 0 {
		sessionsTotal.WithLabelValues("deadline").Inc()
		return nil, ErrDeadlineBeforeFirstBatch
	}

	session.Report = agg.Finalize()
	session.EndedAt = time.Now()
	sessionsTotal.WithLabelValues("ok").Inc()

	logger.Info().
		Int("succeeded", session.Report.TotalSucceeded).
		Int("failed", session.Report.TotalFailed).
		Bool("deadline_hit", deadlineHit).
		Msg("Session complete")

	return session, nil
}

// runBatch processes one batch on the worker pool. Returns false when the
// deadline fired before the batch finished; pending symbols are finalized
// with a timeout kind either way.
func (c *Collector) runBatch(ctx context.Context, fallback *chain.Chain, agg *aggregate.Aggregator, batch []string) bool {
	queue := make(chan *chain.Task, len(batch))
	results := make(chan chain.Result, len(batch))
	stop := make(chan struct{})

	// tasks keeps every task reachable so attempts made before the
	// deadline survive into the timeout results.
	tasks := make(map[string]*chain.Task, len(batch))
	for _, sym := range batch {
		task := chain.NewTask(sym)
		tasks[sym] = task
		queue <- task
	}

	workers := c.cfg.MaxConcurrency
	if workers > len(batch) {
		workers = len(batch)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				case <-gctx.Done():
					return nil
				case task := <-queue:
					res, yield := fallback.Step(gctx, task)
					if res != nil {
						results <- *res
						continue
					}
					// A rate-limited task parks until its window
					// slides; the worker moves on to other tasks
					// instead of sleeping.
					requeueAfter(task, yield, queue, stop, gctx)
				}
			}
		})
	}

	done := make(map[string]bool, len(batch))
	received := 0
	deadlineOK := true

collect:
	for received < len(batch) {
		select {
		case res := <-results:
			agg.Accept(res)
			done[res.Symbol] = true
			received++
		case <-ctx.Done():
			deadlineOK = false
			break collect
		}
	}

	close(stop)
	_ = g.Wait() // workers only return nil

	// Drain results that landed while workers were shutting down, then
	// finalize whatever never completed.
	for {
		select {
		case res := <-results:
			agg.Accept(res)
			done[res.Symbol] = true
		default:
			if !deadlineOK {
				// Workers have exited, so reading task history is
				// race-free. Calls a parked task already made must
				// show in the per-provider counters.
				for _, sym := range batch {
					if !done[sym] {
						agg.Accept(timeoutResult(sym, tasks[sym].History))
					}
				}
				c.logger.Warn().
					Int("batch_len", len(batch)).
					Int("completed", len(done)).
					Msg("Deadline expired mid-batch, finalizing pending symbols as timeouts")
			}
			return deadlineOK
		}
	}
}

// requeueAfter reschedules a parked task for its ready-time. The timer
// lives only as long as the batch: a closed stop channel discards the task.
func requeueAfter(task *chain.Task, delay time.Duration, queue chan *chain.Task, stop <-chan struct{}, ctx context.Context) {
	time.AfterFunc(delay, func() {
		select {
		case <-stop:
		case <-ctx.Done():
		case queue <- task:
		}
	})
}

// timeoutResult finalizes a symbol that never completed before the global
// deadline, preserving whatever attempts the symbol's task already made.
func timeoutResult(symbol string, attempts []chain.Attempt) chain.Result {
	return chain.Result{
		Symbol:   symbol,
		Failed:   true,
		Kind:     classify.KindTimeout,
		Attempts: attempts,
	}
}
