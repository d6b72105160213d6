package chain

import (
	"time"

	"github.com/csaunders4z/market-voice-sub000/pkg/classify"
	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Attempt records one call to one provider for one symbol.
type Attempt struct {
	Provider string        `json:"provider"`
	At       time.Time     `json:"at"`
	Latency  time.Duration `json:"latency"`
	OK       bool          `json:"ok"`
	Kind     classify.Kind `json:"kind,omitempty"`
}

// Task is a symbol's in-progress acquisition. It carries the resume
// position so the scheduler can park a task on a rate-limit yield and hand
// it back later without losing chain progress. Created when a symbol enters
// a batch, discarded once its Result is recorded.
type Task struct {
	Symbol string

	// providerIdx is the chain position to resume from.
	providerIdx int

	// attempts counts calls made to the current provider.
	attempts int

	// lastKind remembers the most recent classified failure, reported
	// if every provider is exhausted.
	lastKind classify.Kind

	// History is the ordered attempt record across all providers.
	History []Attempt
}

// NewTask starts an acquisition task for one symbol.
func NewTask(symbol string) *Task {
	return &Task{Symbol: symbol}
}

// advance moves the task to the next provider in the chain.
func (t *Task) advance() {
	t.providerIdx++
	t.attempts = 0
}

// Result is the terminal outcome for one symbol: a quote plus the provider
// that produced it, or a failure kind from the taxonomy. A failure Result
// is a normal outcome, not an error.
type Result struct {
	Symbol   string          `json:"symbol"`
	Quote    *provider.Quote `json:"quote,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Failed   bool            `json:"failed"`
	Kind     classify.Kind   `json:"kind,omitempty"`
	Attempts []Attempt       `json:"attempts,omitempty"`
}
