// Package metrics provides the centralized Prometheus metrics registry for
// the acquisition engine. All metrics are defined in their respective
// packages (ratelimit, circuit, chain, collector, aggregate) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - collector_ratelimit_delay_seconds{provider} (Histogram): Acquire delay before a call may proceed
//   - collector_ratelimit_throttled_total{provider} (Counter): Acquisitions deferred by a full window
//   - collector_ratelimit_widen_factor{provider} (Gauge): Current adaptive window multiplier
//
// Circuit Breaker Metrics (pkg/circuit):
//   - collector_circuit_state{provider} (Gauge): 0=closed, 1=open, 2=half-open
//   - collector_circuit_trips_total{provider} (Counter): Transitions to open
//   - collector_circuit_rejections_total{provider} (Counter): Calls rejected while open
//
// Chain Metrics (pkg/chain):
//   - collector_fetch_attempts_total{provider, outcome} (Counter): Attempts by outcome (success or failure kind)
//   - collector_fetch_duration_seconds{provider} (Histogram): Per-attempt latency
//   - collector_providers_disabled_total{provider} (Counter): Session-wide disqualifications
//
// Session Metrics (pkg/collector):
//   - collector_sessions_total{status} (Counter): Sessions by terminal status (ok, deadline, error)
//   - collector_batch_duration_seconds (Histogram): Wall time per completed batch
//
// Aggregation Metrics (pkg/aggregate):
//   - collector_aggregator_buffered_records (Gauge): Records awaiting flush
//   - collector_aggregator_flushes_total (Counter): Batch-boundary flushes
//   - collector_results_total{outcome} (Counter): Terminal results by outcome
//
// Example Prometheus Queries:
//
//   # Provider success rate
//   sum(rate(collector_fetch_attempts_total{outcome="success"}[5m])) by (provider) /
//   sum(rate(collector_fetch_attempts_total[5m])) by (provider)
//
//   # Open circuits
//   collector_circuit_state == 1
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(collector_fetch_duration_seconds_bucket[5m]))
//
//   # Throttle pressure
//   rate(collector_ratelimit_throttled_total[5m])
