package aggregate

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csaunders4z/market-voice-sub000/pkg/chain"
	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
)

func successResult(symbol, provider string) chain.Result {
	return chain.Result{
		Symbol:   symbol,
		Provider: provider,
		Attempts: []chain.Attempt{{Provider: provider, OK: true}},
	}
}

func failureResult(symbol, provider string, kind classify.Kind) chain.Result {
	return chain.Result{
		Symbol:   symbol,
		Failed:   true,
		Kind:     kind,
		Attempts: []chain.Attempt{{Provider: provider, Kind: kind}},
	}
}

func TestAggregator_FlushBoundsBuffer(t *testing.T) {
	a := New(zerolog.Nop())

	const batchSize = 50
	const batches = 200 // 10,000 symbols total

	for b := 0; b < batches; b++ {
		for i := 0; i < batchSize; i++ {
			a.Accept(successResult(fmt.Sprintf("SYM-%d-%d", b, i), "alpha"))
		}
		a.Flush()
		require.Zero(t, a.BufferedCount(), "flush must reclaim the batch buffer")
	}

	assert.Equal(t, batchSize, a.PeakBuffered(),
		"peak buffer must stay at one batch regardless of total volume")

	report := a.Finalize()
	assert.Equal(t, batchSize*batches, report.TotalRequested)
	assert.Equal(t, batchSize*batches, report.TotalSucceeded)
	assert.Equal(t, batchSize, report.PeakBuffered)
}

func TestAggregator_FinalizeCountsAndRates(t *testing.T) {
	a := New(zerolog.Nop())

	a.Accept(successResult("AAPL", "alpha"))
	a.Accept(successResult("MSFT", "alpha"))
	a.Accept(failureResult("GOOG", "alpha", classify.KindNetworkError))
	a.Flush()
	a.Accept(chain.Result{
		Symbol:   "TSLA",
		Provider: "beta",
		Attempts: []chain.Attempt{
			{Provider: "alpha", Kind: classify.KindRateLimited},
			{Provider: "beta", OK: true},
		},
	})
	a.Accept(failureResult("NVDA", "beta", classify.KindTimeout))

	report := a.Finalize()

	assert.Equal(t, 5, report.TotalRequested)
	assert.Equal(t, 3, report.TotalSucceeded)
	assert.Equal(t, 2, report.TotalFailed)

	alpha := report.Providers["alpha"]
	assert.Equal(t, 4, alpha.Calls)
	assert.Equal(t, 2, alpha.Successes)
	assert.InDelta(t, 0.5, alpha.SuccessRate, 1e-9)

	beta := report.Providers["beta"]
	assert.Equal(t, 2, beta.Calls)
	assert.Equal(t, 1, beta.Successes)

	assert.Equal(t, 1, report.FailureKinds[classify.KindNetworkError])
	assert.Equal(t, 1, report.FailureKinds[classify.KindTimeout])

	require.Len(t, report.FailedSymbols, 2)
	assert.Equal(t, "GOOG", report.FailedSymbols[0].Symbol, "failed symbols are sorted")
	assert.Equal(t, "NVDA", report.FailedSymbols[1].Symbol)
}

func TestAggregator_ExactlyOneResultPerSymbol(t *testing.T) {
	a := New(zerolog.Nop())

	symbols := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM-%03d", i))
	}
	for i, sym := range symbols {
		if i%7 == 0 {
			a.Accept(failureResult(sym, "alpha", classify.KindUnknown))
		} else {
			a.Accept(successResult(sym, "alpha"))
		}
		if i%50 == 49 {
			a.Flush()
		}
	}

	report := a.Finalize()

	require.Equal(t, len(symbols), len(report.Results))
	for _, sym := range symbols {
		_, ok := report.Results[sym]
		require.True(t, ok, "missing result for %s", sym)
	}
	assert.Equal(t, len(symbols), report.TotalSucceeded+report.TotalFailed)
}

func TestAggregator_StreamIsSinglePass(t *testing.T) {
	a := New(zerolog.Nop())
	a.Accept(successResult("AAPL", "alpha"))
	a.Accept(successResult("MSFT", "alpha"))
	a.Flush()

	seen := map[string]bool{}
	for res := range a.Stream() {
		require.False(t, seen[res.Symbol], "duplicate %s in stream", res.Symbol)
		seen[res.Symbol] = true
	}
	assert.Len(t, seen, 2)

	// Second pass is refused: the stream is non-restartable.
	count := 0
	for range a.Stream() {
		count++
	}
	assert.Zero(t, count)
}
