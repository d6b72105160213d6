// Package classify maps raw provider failures onto the engine's error
// taxonomy and the recovery action the fallback chain applies. The decision
// table lives here, once, so recovery policy is uniform across providers.
package classify

import (
	"context"
	"errors"
	"net"

	"github.com/csaunders4z/market-voice-sub000/pkg/provider"
)

// Kind is the classification of a failed fetch attempt.
type Kind string

const (
	// KindRateLimited indicates the provider throttled the call.
	KindRateLimited Kind = "rate_limited"

	// KindAuthFailure indicates rejected credentials. The provider is
	// unusable for the remainder of the session.
	KindAuthFailure Kind = "auth_failure"

	// KindNetworkError indicates a transport-level failure or an upstream
	// 5xx response.
	KindNetworkError Kind = "network_error"

	// KindValidationError indicates the provider answered with an
	// unusable payload shape.
	KindValidationError Kind = "validation_error"

	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindUnknown covers everything the table cannot place.
	KindUnknown Kind = "unknown"
)

// ErrBadPayload is returned when a provider response fails the payload
// shape check. Classified as KindValidationError.
var ErrBadPayload = errors.New("payload failed shape validation")

// Recovery tells the chain what to do after a classified failure.
type Recovery struct {
	// Retry permits further attempts on the same provider, bounded by
	// RetryBudget. Zero budget with Retry set means one retry.
	Retry bool

	// RetryBudget caps same-provider retries for this kind. Negative
	// means "use the chain's configured budget".
	RetryBudget int

	// WidenWindow tells the rate limiter to back off this provider.
	WidenWindow bool

	// DisableProvider removes the provider from the chain for the rest
	// of the session, for every symbol.
	DisableProvider bool
}

// Classification is the outcome of classifying one raw error.
type Classification struct {
	Kind     Kind
	Recovery Recovery
}

// recoveryTable is the single source of recovery policy per kind.
var recoveryTable = map[Kind]Recovery{
	KindRateLimited:     {Retry: true, RetryBudget: -1, WidenWindow: true},
	KindAuthFailure:     {DisableProvider: true},
	KindNetworkError:    {Retry: true, RetryBudget: -1},
	KindTimeout:         {Retry: true, RetryBudget: -1},
	KindValidationError: {},
	KindUnknown:         {Retry: true, RetryBudget: 1},
}

// Classify maps a raw error to its kind and recovery action. It is
// deterministic and has no side effects; the chain applies the decision.
func Classify(err error) Classification {
	kind := kindOf(err)
	return Classification{Kind: kind, Recovery: recoveryTable[kind]}
}

// RecoveryFor returns the recovery action for an already-known kind.
func RecoveryFor(kind Kind) Recovery {
	return recoveryTable[kind]
}

func kindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if errors.Is(err, ErrBadPayload) {
		return KindValidationError
	}

	var provErr *provider.Error
	if errors.As(err, &provErr) {
		return kindOfStatus(provErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetworkError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetworkError
	}

	return KindUnknown
}

// kindOfStatus places an HTTP status code in the taxonomy.
func kindOfStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthFailure
	case status == 408:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindValidationError
	case status >= 500:
		return KindNetworkError
	default:
		return KindUnknown
	}
}
