package ratelimit

import (
	"testing"
	"time"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

func TestWindowState_EffectiveWindow(t *testing.T) {
	tests := []struct {
		name     string
		window   time.Duration
		widen    float64
		expected time.Duration
	}{
		{
			name:     "baseline multiplier",
			window:   10 * time.Second,
			widen:    1,
			expected: 10 * time.Second,
		},
		{
			name:     "doubled window",
			window:   10 * time.Second,
			widen:    2,
			expected: 20 * time.Second,
		},
		{
			name:     "capped multiplier",
			window:   time.Minute,
			widen:    8,
			expected: 8 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &windowState{
				policy: provider.Policy{MaxCalls: 5, Window: tt.window},
				widen:  tt.widen,
			}
			if got := st.effectiveWindow(); got != tt.expected {
				t.Errorf("effectiveWindow() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWindowState_Prune(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		callAges  []time.Duration // age of each recorded call relative to now
		window    time.Duration
		remaining int
	}{
		{
			name:      "all calls inside window",
			callAges:  []time.Duration{time.Second, 2 * time.Second},
			window:    10 * time.Second,
			remaining: 2,
		},
		{
			name:      "oldest call expired",
			callAges:  []time.Duration{11 * time.Second, 2 * time.Second},
			window:    10 * time.Second,
			remaining: 1,
		},
		{
			name:      "everything expired",
			callAges:  []time.Duration{30 * time.Second, 20 * time.Second},
			window:    10 * time.Second,
			remaining: 0,
		},
		{
			name:      "call exactly at cutoff is pruned",
			callAges:  []time.Duration{10 * time.Second},
			window:    10 * time.Second,
			remaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &windowState{
				policy: provider.Policy{MaxCalls: 5, Window: tt.window},
				widen:  1,
			}
			for _, age := range tt.callAges {
				st.calls = append(st.calls, base.Add(-age))
			}
			st.prune(base)
			if len(st.calls) != tt.remaining {
				t.Errorf("prune() left %d calls, want %d", len(st.calls), tt.remaining)
			}
		})
	}
}
