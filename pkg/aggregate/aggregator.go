// Package aggregate accumulates per-symbol results with bounded memory and
// produces the end-of-session report. Results buffer per batch; Flush moves
// them into durable in-process accounting so peak memory stays at roughly
// one batch regardless of total symbol count.
package aggregate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/csaunders4z/market-voice-sub000/pkg/chain"
	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
)

// Prometheus metrics for aggregation.
var (
	bufferedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_aggregator_buffered_records",
		Help: "Records currently buffered between flushes",
	})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_aggregator_flushes_total",
		Help: "Total aggregator flushes",
	})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_results_total",
		Help: "Terminal results by outcome",
	}, []string{"outcome"})
)

// providerStats tracks per-provider usage within a session.
type providerStats struct {
	Calls     int
	Successes int
}

// Aggregator collects results for one session. Accept and Flush are safe
// for concurrent use; Finalize and Stream are called once, after the last
// flush.
type Aggregator struct {
	mu sync.Mutex

	// buffer holds accepted results since the last flush.
	buffer []chain.Result

	// durable accounting, fed by Flush.
	results    map[string]chain.Result
	byProvider map[string]*providerStats
	byKind     map[classify.Kind]int

	peakBuffered int
	started      time.Time
	streamed     bool

	logger zerolog.Logger
}

// New creates an aggregator; the session clock starts now.
func New(logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		results:    make(map[string]chain.Result),
		byProvider: make(map[string]*providerStats),
		byKind:     make(map[classify.Kind]int),
		started:    time.Now(),
		logger:     logger,
	}
}

// Accept buffers one terminal result.
func (a *Aggregator) Accept(res chain.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer = append(a.buffer, res)
	if len(a.buffer) > a.peakBuffered {
		a.peakBuffered = len(a.buffer)
	}
	bufferedRecords.Set(float64(len(a.buffer)))
}

// Flush moves buffered results into durable accounting and reclaims the
// buffer. Called at every batch boundary.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, res := range a.buffer {
		a.record(res)
	}
	a.buffer = a.buffer[:0]
	bufferedRecords.Set(0)
	flushesTotal.Inc()
}

// record folds one result into the durable maps. Caller holds a.mu.
// Last write wins if a symbol is somehow reported twice; the scheduler
// guarantees that does not happen.
func (a *Aggregator) record(res chain.Result) {
	a.results[res.Symbol] = res

	for _, att := range res.Attempts {
		st := a.byProvider[att.Provider]
		if st == nil {
			st = &providerStats{}
			a.byProvider[att.Provider] = st
		}
		st.Calls++
		if att.OK {
			st.Successes++
		}
	}

	if res.Failed {
		a.byKind[res.Kind]++
		resultsTotal.WithLabelValues("failure").Inc()
		return
	}
	resultsTotal.WithLabelValues("success").Inc()
}

// BufferedCount returns the number of records awaiting flush.
func (a *Aggregator) BufferedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// PeakBuffered returns the high-water mark of the flush buffer.
func (a *Aggregator) PeakBuffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peakBuffered
}

// Finalize flushes any stragglers and computes the session report.
func (a *Aggregator) Finalize() *Report {
	a.Flush()

	a.mu.Lock()
	defer a.mu.Unlock()

	report := &Report{
		TotalRequested: len(a.results),
		Results:        make(map[string]chain.Result, len(a.results)),
		Providers:      make(map[string]ProviderReport, len(a.byProvider)),
		FailureKinds:   make(map[classify.Kind]int, len(a.byKind)),
		Elapsed:        time.Since(a.started),
		PeakBuffered:   a.peakBuffered,
	}

	for sym, res := range a.results {
		report.Results[sym] = res
		if res.Failed {
			report.TotalFailed++
			report.FailedSymbols = append(report.FailedSymbols, FailedSymbol{
				Symbol: sym, Kind: res.Kind,
			})
		} else {
			report.TotalSucceeded++
		}
	}
	report.sortFailures()

	for name, st := range a.byProvider {
		pr := ProviderReport{Calls: st.Calls, Successes: st.Successes}
		if st.Calls > 0 {
			pr.SuccessRate = float64(st.Successes) / float64(st.Calls)
		}
		report.Providers[name] = pr
	}
	for kind, n := range a.byKind {
		report.FailureKinds[kind] = n
	}

	a.logger.Info().
		Int("requested", report.TotalRequested).
		Int("succeeded", report.TotalSucceeded).
		Int("failed", report.TotalFailed).
		Dur("elapsed", report.Elapsed).
		Int("peak_buffered", report.PeakBuffered).
		Msg("Session finalized")

	return report
}

// Stream returns a lazy, single-pass sequence of completed results. The
// channel draws from durable accounting at consumption time; a second call
// returns an immediately closed channel.
func (a *Aggregator) Stream() <-chan chain.Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(chan chain.Result)
	if a.streamed {
		a.logger.Error().Msg("Result stream already consumed, returning empty stream")
		close(out)
		return out
	}
	a.streamed = true

	// Snapshot keys so the goroutine does not hold the lock while the
	// consumer drains.
	symbols := make([]string, 0, len(a.results))
	for sym := range a.results {
		symbols = append(symbols, sym)
	}

	go func() {
		defer close(out)
		for _, sym := range symbols {
			a.mu.Lock()
			res := a.results[sym]
			a.mu.Unlock()
			out <- res
		}
	}()

	return out
}
