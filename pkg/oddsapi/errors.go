package oddsapi

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an upstream failure by how the pipeline reacts to it.
type Kind int

const (
	// KindTransient covers network failures, 5xx responses and an open
	// circuit breaker. Retried under the scheduler's policy.
	KindTransient Kind = iota
	// KindAuth is a 401: the credential is bad, the cycle aborts.
	KindAuth
	// KindBadRequest is a 422: unknown sport, market or region.
	KindBadRequest
	// KindQuota is a 429: the request allowance is spent, the cycle aborts
	// and ticks are suppressed until the reset instant when one was given.
	KindQuota
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindQuota:
		return "quota_exhausted"
	default:
		return "transient"
	}
}

// StatusError is a classified upstream feed failure.
type StatusError struct {
	Kind       Kind
	StatusCode int
	Message    string
	// ResetAt is set on quota errors when the feed hinted at a reset
	// instant; zero means back off until the next natural tick.
	ResetAt time.Time
}

func (e *StatusError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("odds feed %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("odds feed %s: %s", e.Kind, e.Message)
}

func IsAuth(err error) bool {
	return hasKind(err, KindAuth)
}

func IsBadRequest(err error) bool {
	return hasKind(err, KindBadRequest)
}

func IsQuotaExhausted(err error) bool {
	return hasKind(err, KindQuota)
}

// IsTransient reports whether the failure is worth retrying. Unclassified
// errors (transport failures and the like) count as transient; cancellation
// never does.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return true
}

// QuotaResetAt extracts the reset instant from a quota error, if the feed
// provided one.
func QuotaResetAt(err error) (time.Time, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.Kind == KindQuota && !se.ResetAt.IsZero() {
		return se.ResetAt, true
	}
	return time.Time{}, false
}

func hasKind(err error, k Kind) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Kind == k
}
