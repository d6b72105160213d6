// Package provider defines the upstream adapter interface consumed by the
// acquisition engine. Concrete providers (their HTTP clients, auth, and
// response parsing) live outside this module; the engine only sees this
// contract.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy declares a provider's rate-limit budget: at most MaxCalls within
// any rolling Window.
type Policy struct {
	MaxCalls int
	Window   time.Duration
}

// Quote is the normalized payload a provider returns for one symbol.
// Price and Volume use decimal to avoid float rounding on market data.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Volume     decimal.Decimal `json:"volume,omitempty"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`

	// Raw is the provider's original JSON payload, kept for downstream
	// consumers that need fields the normalized shape drops.
	Raw []byte `json:"-"`
}

// Provider is one upstream data source. Implementations are supplied by the
// caller and configured once per session; the engine never mutates them.
type Provider interface {
	// Name returns the unique provider identifier used for state keying,
	// logging, and metrics labels.
	Name() string

	// Priority returns the provider's rank within a fallback chain.
	// Lower values are tried first.
	Priority() int

	// RateLimit returns the provider's declared call budget.
	RateLimit() Policy

	// Fetch retrieves the quote for a single symbol.
	Fetch(ctx context.Context, symbol string) (*Quote, error)
}

// Error is a typed upstream failure carrying enough context for
// classification. Adapters should return it for HTTP-level failures.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error (status %d): %s: %v",
			e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s error (status %d): %s",
		e.Provider, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
