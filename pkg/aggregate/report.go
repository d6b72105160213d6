package aggregate

import (
	"sort"
	"time"

	"github.com/csaunders4z/market-voice-sub000/pkg/chain"
	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
)

// ProviderReport summarizes one provider's usage in a session.
type ProviderReport struct {
	Calls       int     `json:"calls"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// FailedSymbol names a symbol that ended the session without data.
type FailedSymbol struct {
	Symbol string        `json:"symbol"`
	Kind   classify.Kind `json:"kind"`
}

// Report is the end-of-session summary consumed by downstream content
// generation. Persistence and formatting are the caller's concern.
type Report struct {
	TotalRequested int `json:"total_requested"`
	TotalSucceeded int `json:"total_succeeded"`
	TotalFailed    int `json:"total_failed"`

	Results       map[string]chain.Result   `json:"results"`
	Providers     map[string]ProviderReport `json:"providers"`
	FailureKinds  map[classify.Kind]int     `json:"failure_kinds,omitempty"`
	FailedSymbols []FailedSymbol            `json:"failed_symbols,omitempty"`

	Elapsed      time.Duration `json:"elapsed"`
	PeakBuffered int           `json:"peak_buffered"`
}

// sortFailures orders the failed-symbol list for stable output.
func (r *Report) sortFailures() {
	sort.Slice(r.FailedSymbols, func(i, j int) bool {
		return r.FailedSymbols[i].Symbol < r.FailedSymbols[j].Symbol
	})
}
