// Package testutil provides scripted fake providers and error constructors
// for engine tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Outcome scripts one response from a FakeProvider.
type Outcome struct {
	Quote *provider.Quote
	Err   error
	Delay time.Duration
}

// FakeProvider is a scriptable provider for tests. Each Fetch consumes the
// next scripted outcome; once the script runs out, the Default outcome
// repeats. Call counts are tracked for assertions.
type FakeProvider struct {
	ProviderName string
	Rank         int
	Policy       provider.Policy

	// Default is returned when the script is exhausted. A nil Default
	// with an empty script yields a healthy quote.
	Default *Outcome

	mu        sync.Mutex
	script    []Outcome
	callCount int
	symbols   []string
}

// NewFakeProvider creates a fake with a permissive rate limit.
func NewFakeProvider(name string, rank int) *FakeProvider {
	return &FakeProvider{
		ProviderName: name,
		Rank:         rank,
		Policy:       provider.Policy{MaxCalls: 10000, Window: time.Minute},
	}
}

// Script appends outcomes to be returned in order.
func (f *FakeProvider) Script(outcomes ...Outcome) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, outcomes...)
	return f
}

// Always makes every unscripted call return the given outcome.
func (f *FakeProvider) Always(o Outcome) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Default = &o
	return f
}

// Name implements provider.Provider.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Priority implements provider.Provider.
func (f *FakeProvider) Priority() int { return f.Rank }

// RateLimit implements provider.Provider.
func (f *FakeProvider) RateLimit() provider.Policy { return f.Policy }

// Fetch implements provider.Provider by consuming the script.
func (f *FakeProvider) Fetch(ctx context.Context, symbol string) (*provider.Quote, error) {
	f.mu.Lock()
	var out Outcome
	switch {
	case f.callCount < len(f.script):
		out = f.script[f.callCount]
	case f.Default != nil:
		out = *f.Default
	default:
		out = Outcome{Quote: HealthyQuote(f.ProviderName, symbol)}
	}
	f.callCount++
	f.symbols = append(f.symbols, symbol)
	f.mu.Unlock()

	if out.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(out.Delay):
		}
	}
	if out.Err != nil {
		return nil, out.Err
	}
	if out.Quote != nil {
		q := *out.Quote
		q.Symbol = symbol
		return &q, nil
	}
	return HealthyQuote(f.ProviderName, symbol), nil
}

// Calls returns how many times Fetch was invoked.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// Symbols returns the symbols fetched, in call order.
func (f *FakeProvider) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// HealthyQuote builds a plausible quote payload for a symbol.
func HealthyQuote(source, symbol string) *provider.Quote {
	return &provider.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(101.25),
		Currency:   "USD",
		Volume:     decimal.NewFromInt(12000),
		Source:     source,
		ReceivedAt: time.Now().UTC(),
		Raw:        []byte(fmt.Sprintf(`{"symbol":%q,"price":"101.25","currency":"USD"}`, symbol)),
	}
}

// Typed error constructors mirroring common upstream failures.

// RateLimitedErr is an HTTP 429 from the named provider.
func RateLimitedErr(name string) error {
	return &provider.Error{Provider: name, StatusCode: http.StatusTooManyRequests, Message: "too many requests"}
}

// AuthErr is an HTTP 401 from the named provider.
func AuthErr(name string) error {
	return &provider.Error{Provider: name, StatusCode: http.StatusUnauthorized, Message: "invalid api key"}
}

// ServerErr is an HTTP 503 from the named provider.
func ServerErr(name string) error {
	return &provider.Error{Provider: name, StatusCode: http.StatusServiceUnavailable, Message: "upstream unavailable"}
}

// BadPayloadErr is a malformed-response failure from the named provider.
func BadPayloadErr(name string) error {
	return &provider.Error{Provider: name, StatusCode: http.StatusUnprocessableEntity, Message: "unexpected payload shape"}
}
