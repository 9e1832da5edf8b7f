// Package resilience provides the retry/backoff and transient-vs-permanent
// error classification used by the transport agent (spec.md §4.7) and the
// auto-sync manager's permanent_failure rule (§4.10).
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ClassifyError buckets an error into a coarse label for metrics and logs.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}

// ErrorChecker determines if an error should trigger a retry attempt.
//
// Implementations return true for transient errors (network timeouts,
// temporary service unavailability) and false for permanent ones (invalid
// input, authorization failures) — the same transient/permanent split that
// spec.md §4.10 requires of StatusTransportFailure vs. everything else.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultErrorChecker treats network errors and timeouts as retryable,
// and an error implementing Temporary() as retryable only when it
// reports true; everything else is retryable too unless explicitly
// wrapped in ErrNonRetryable.
type DefaultErrorChecker struct{}

// IsRetryable implements ErrorChecker.
func (DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	if isTransientNetworkError(err) {
		return true
	}
	if isTimeoutError(err) {
		return true
	}
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// NeverRetryChecker always returns false.
type NeverRetryChecker struct{}

// IsRetryable implements ErrorChecker.
func (NeverRetryChecker) IsRetryable(err error) bool { return false }

// AlwaysRetryChecker returns true for any non-nil error.
type AlwaysRetryChecker struct{}

// IsRetryable implements ErrorChecker.
func (AlwaysRetryChecker) IsRetryable(err error) bool { return err != nil }
