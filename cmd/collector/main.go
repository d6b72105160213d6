package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/csaunders4z/market-voice-sub000/pkg/collector"
	"github.com/csaunders4z/market-voice-sub000/pkg/logging"
	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Spec is the environment configuration, prefixed COLLECTOR_.
type Spec struct {
	Symbols        string        `envconfig:"SYMBOLS"`
	SymbolsFile    string        `envconfig:"SYMBOLS_FILE"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"50"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"10"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"5m"`
	RetryBudget    int           `envconfig:"RETRY_BUDGET" default:"2"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool          `envconfig:"LOG_PRETTY" default:"false"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR" default:":9090"`
	SimFailureRate float64       `envconfig:"SIM_FAILURE_RATE" default:"0.05"`
}

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var spec Spec
	if err := envconfig.Process("collector", &spec); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(spec.LogLevel),
		Pretty: spec.LogPretty,
		Output: os.Stderr,
	})

	symbols, err := loadSymbols(spec)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load symbol universe")
	}
	if len(symbols) == 0 {
		logger.Fatal().Msg("No symbols configured (set COLLECTOR_SYMBOLS or COLLECTOR_SYMBOLS_FILE)")
	}

	// Metrics endpoint for scraping during the run.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Str("addr", spec.MetricsAddr).Msg("Serving metrics")
		if err := http.ListenAndServe(spec.MetricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()

	// The engine consumes providers; it never builds them. This binary
	// wires simulated upstreams so the pipeline can be exercised without
	// credentials.
	providers := []provider.Provider{
		newSimProvider("sim-primary", 1, provider.Policy{MaxCalls: 300, Window: time.Minute}, spec.SimFailureRate),
		newSimProvider("sim-secondary", 2, provider.Policy{MaxCalls: 120, Window: time.Minute}, spec.SimFailureRate),
		newSimProvider("sim-tertiary", 3, provider.Policy{MaxCalls: 60, Window: time.Minute}, spec.SimFailureRate),
	}

	engine, err := collector.New(providers, collector.Config{
		BatchSize:      spec.BatchSize,
		MaxConcurrency: spec.MaxConcurrency,
		Timeout:        spec.Timeout,
		RetryBudget:    spec.RetryBudget,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build collector")
	}

	session, err := engine.Run(context.Background(), symbols)
	if err != nil {
		logger.Fatal().Err(err).Msg("Session failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(session.Report); err != nil {
		logger.Fatal().Err(err).Msg("Failed to encode report")
	}
}

// loadSymbols reads the symbol universe from the inline list or, failing
// that, one symbol per line from the configured file.
func loadSymbols(spec Spec) ([]string, error) {
	if spec.Symbols != "" {
		return splitSymbols(spec.Symbols), nil
	}
	if spec.SymbolsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(spec.SymbolsFile)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	return splitSymbols(strings.ReplaceAll(string(data), "\n", ",")), nil
}

// splitSymbols parses a comma-separated symbol list, trimming blanks and
// duplicates while preserving input order.
func splitSymbols(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		sym := strings.TrimSpace(part)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// simProvider is a synthetic upstream for smoke runs: variable latency,
// occasional 503s at the configured rate.
type simProvider struct {
	name        string
	rank        int
	policy      provider.Policy
	failureRate float64
}

func newSimProvider(name string, rank int, policy provider.Policy, failureRate float64) *simProvider {
	return &simProvider{name: name, rank: rank, policy: policy, failureRate: failureRate}
}

func (s *simProvider) Name() string               { return s.name }
func (s *simProvider) Priority() int              { return s.rank }
func (s *simProvider) RateLimit() provider.Policy { return s.policy }

func (s *simProvider) Fetch(ctx context.Context, symbol string) (*provider.Quote, error) {
	latency := time.Duration(5+rand.Intn(45)) * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	if rand.Float64() < s.failureRate {
		return nil, &provider.Error{
			Provider:   s.name,
			StatusCode: http.StatusServiceUnavailable,
			Message:    "simulated upstream outage",
		}
	}

	price := decimal.NewFromFloat(10 + rand.Float64()*990).Round(2)
	return &provider.Quote{
		Symbol:     symbol,
		Price:      price,
		Currency:   "USD",
		Volume:     decimal.NewFromInt(int64(rand.Intn(1_000_000))),
		Source:     s.name,
		ReceivedAt: time.Now().UTC(),
		Raw:        []byte(fmt.Sprintf(`{"symbol":%q,"price":%q,"currency":"USD"}`, symbol, price.String())),
	}, nil
}
