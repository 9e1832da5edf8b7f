package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	policy := &Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	policy := &Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Checker: NeverRetryChecker{}}
	err := Do(context.Background(), policy, func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := &Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Checker: AlwaysRetryChecker{}}
	err := Do(ctx, policy, func() error {
		return errors.New("connection reset")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", ClassifyError(nil))
	assert.Equal(t, "timeout", ClassifyError(errors.New("i/o timeout")))
	assert.Equal(t, "rate_limit", ClassifyError(errors.New("429 too many requests")))
}
