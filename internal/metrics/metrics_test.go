package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLazyInitIsIdempotent(t *testing.T) {
	r := New("pimsyncd_test_lazy")
	s1 := r.Sessions()
	s2 := r.Sessions()
	assert.Same(t, s1, s2)
}

func TestRetryMetricsImplementsRecorder(t *testing.T) {
	r := New("pimsyncd_test_retry")
	rm := r.Retry()
	require.NotNil(t, rm)
	rm.RecordAttempt("transport_send", "success", "none", 0.01)
	rm.RecordFinalAttempt("transport_send", "success", 1)
	rm.RecordBackoff("transport_send", 0.1)
}

func TestDefaultReturnsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
