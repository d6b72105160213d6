package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// timeoutErr implements net.Error for timeout classification tests.
type timeoutErr struct{ timeout bool }

func (e *timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (e *timeoutErr) Timeout() bool   { return e.timeout }
func (e *timeoutErr) Temporary() bool { return true }

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "http 429",
			err:      &provider.Error{Provider: "alpha", StatusCode: 429, Message: "too many requests"},
			expected: KindRateLimited,
		},
		{
			name:     "http 401",
			err:      &provider.Error{Provider: "alpha", StatusCode: 401, Message: "unauthorized"},
			expected: KindAuthFailure,
		},
		{
			name:     "http 403",
			err:      &provider.Error{Provider: "alpha", StatusCode: 403, Message: "forbidden"},
			expected: KindAuthFailure,
		},
		{
			name:     "http 408",
			err:      &provider.Error{Provider: "alpha", StatusCode: 408, Message: "request timeout"},
			expected: KindTimeout,
		},
		{
			name:     "http 422",
			err:      &provider.Error{Provider: "alpha", StatusCode: 422, Message: "unprocessable"},
			expected: KindValidationError,
		},
		{
			name:     "http 500",
			err:      &provider.Error{Provider: "alpha", StatusCode: 500, Message: "internal error"},
			expected: KindNetworkError,
		},
		{
			name:     "http 503",
			err:      &provider.Error{Provider: "alpha", StatusCode: 503, Message: "unavailable"},
			expected: KindNetworkError,
		},
		{
			name:     "wrapped provider error",
			err:      fmt.Errorf("fetch failed: %w", &provider.Error{Provider: "alpha", StatusCode: 429}),
			expected: KindRateLimited,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			expected: KindTimeout,
		},
		{
			name:     "net timeout",
			err:      &timeoutErr{timeout: true},
			expected: KindTimeout,
		},
		{
			name:     "net non-timeout",
			err:      &timeoutErr{timeout: false},
			expected: KindNetworkError,
		},
		{
			name:     "bad payload sentinel",
			err:      fmt.Errorf("alpha: %w", ErrBadPayload),
			expected: KindValidationError,
		},
		{
			name:     "anything else",
			err:      errors.New("mystery failure"),
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.expected {
				t.Errorf("Classify().Kind = %v, want %v", got.Kind, tt.expected)
			}
		})
	}
}

func TestClassify_RecoveryActions(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		wantRetry   bool
		wantBudget  int
		wantWiden   bool
		wantDisable bool
	}{
		{
			name:       "rate limited retries with widened window",
			kind:       KindRateLimited,
			wantRetry:  true,
			wantBudget: -1,
			wantWiden:  true,
		},
		{
			name:        "auth failure disables provider",
			kind:        KindAuthFailure,
			wantDisable: true,
		},
		{
			name:       "network error retries",
			kind:       KindNetworkError,
			wantRetry:  true,
			wantBudget: -1,
		},
		{
			name:       "timeout retries",
			kind:       KindTimeout,
			wantRetry:  true,
			wantBudget: -1,
		},
		{
			name: "validation error falls back immediately",
			kind: KindValidationError,
		},
		{
			name:       "unknown gets exactly one retry",
			kind:       KindUnknown,
			wantRetry:  true,
			wantBudget: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RecoveryFor(tt.kind)
			if rec.Retry != tt.wantRetry {
				t.Errorf("Retry = %v, want %v", rec.Retry, tt.wantRetry)
			}
			if rec.RetryBudget != tt.wantBudget {
				t.Errorf("RetryBudget = %d, want %d", rec.RetryBudget, tt.wantBudget)
			}
			if rec.WidenWindow != tt.wantWiden {
				t.Errorf("WidenWindow = %v, want %v", rec.WidenWindow, tt.wantWiden)
			}
			if rec.DisableProvider != tt.wantDisable {
				t.Errorf("DisableProvider = %v, want %v", rec.DisableProvider, tt.wantDisable)
			}
		})
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	err := &provider.Error{Provider: "alpha", StatusCode: 429}
	first := Classify(err)
	for i := 0; i < 10; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("Classify() = %+v on repeat, want %+v", got, first)
		}
	}
}
