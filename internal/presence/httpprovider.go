package presence

import (
	"context"
	"time"

	"github.com/syncevo/pimsyncd/internal/resilience"
)

// Pinger is the minimal probe a Provider needs: return nil if the
// network path is currently usable. In production this is an HTTP HEAD
// against a well-known reachability endpoint; tests substitute a fake.
type Pinger func(ctx context.Context) error

// HTTPProvider is the default reachability provider used when no
// OS-level presence service (ConnMan/NetworkManager) is available: it
// polls ping periodically, retrying transient failures with
// internal/resilience before declaring the transport down.
type HTTPProvider struct {
	ping     Pinger
	interval time.Duration
	policy   *resilience.Policy
}

// NewHTTPProvider polls ping every interval.
func NewHTTPProvider(ping Pinger, interval time.Duration) *HTTPProvider {
	policy := resilience.DefaultPolicy()
	policy.OperationName = "presence_http_probe"
	return &HTTPProvider{ping: ping, interval: interval, policy: policy}
}

func (p *HTTPProvider) Kind() Kind { return HTTP }

// Watch starts a background poll loop and returns immediately; it polls
// on a ticker until stopCh closes, reporting edges only (not every poll)
// via onChange.
func (p *HTTPProvider) Watch(stopCh <-chan struct{}, onChange func(available bool)) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		last := true
		onChange(last)

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), p.interval)
				err := resilience.Do(ctx, p.policy, func() error { return p.ping(ctx) })
				cancel()
				available := err == nil
				if available != last {
					last = available
					onChange(available)
				}
			}
		}
	}()
}
