package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Recorder receives retry-attempt observability without this package
// depending on any particular metrics backend.
type Recorder interface {
	RecordAttempt(operation, outcome, errorType string, seconds float64)
	RecordFinalAttempt(operation, outcome string, attempts int)
	RecordBackoff(operation string, seconds float64)
}

// Policy configures retry behavior with exponential backoff.
//
// Used by the transport agent (spec.md §4.7, "wait" retried on transient
// TransportFailure) and by the presence monitor's reachability probe
// (§4.9).
type Policy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int

	// BaseDelay is the initial delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor (2.0 is typical).
	Multiplier float64

	// Jitter adds up to 10% randomness to each delay to avoid thundering herd.
	Jitter bool

	// Checker decides whether a given error should trigger a retry. Defaults
	// to DefaultErrorChecker when nil.
	Checker ErrorChecker

	// Logger receives retry diagnostics. Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// Recorder optionally records attempt/backoff observability.
	Recorder Recorder

	// OperationName labels Recorder observations.
	OperationName string
}

// DefaultPolicy returns a sensible default: 3 retries, 100ms base delay,
// 5s cap, 2x backoff, jitter on.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do executes operation under the policy, retrying transient failures with
// exponential backoff. Context cancellation during a backoff sleep returns
// ctx.Err() immediately.
func Do(ctx context.Context, policy *Policy, operation func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		start := time.Now()
		err := operation()
		elapsed := time.Since(start).Seconds()

		if err == nil {
			if policy.Recorder != nil {
				policy.Recorder.RecordAttempt(opName, "success", "none", elapsed)
				policy.Recorder.RecordFinalAttempt(opName, "success", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.Checker) {
			if policy.Recorder != nil {
				policy.Recorder.RecordAttempt(opName, "failure", ClassifyError(err), elapsed)
				policy.Recorder.RecordFinalAttempt(opName, "failure", attempt+1)
			}
			return lastErr
		}

		if policy.Recorder != nil {
			policy.Recorder.RecordAttempt(opName, "failure", ClassifyError(err), elapsed)
		}

		if attempt >= policy.MaxRetries {
			if policy.Recorder != nil {
				policy.Recorder.RecordFinalAttempt(opName, "failure", attempt+1)
			}
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)
		if policy.Recorder != nil {
			policy.Recorder.RecordBackoff(opName, delay.Seconds())
		}

		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker ErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker == nil {
		checker = DefaultErrorChecker{}
	}
	return checker.IsRetryable(err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
