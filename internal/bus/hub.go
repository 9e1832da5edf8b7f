package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syncevo/pimsyncd/internal/metrics"
)

// Subscriber is one attached bus client able to receive signals, backed
// in production by a WebSocket connection (see wsSubscriber).
type Subscriber interface {
	ID() string
	Send(signal Signal) error
	Close() error
	Context() context.Context
}

// Hub fans out signals to every attached Subscriber. It is the
// process-wide replacement for the D-Bus session bus: every Server,
// Session, and Connection signal in spec.md §6 is published here.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool

	signalChan chan Signal
	sequence   int64

	logger  *slog.Logger
	metrics *metrics.BusMetrics

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a Hub. m may be nil in tests.
func NewHub(logger *slog.Logger, m *metrics.BusMetrics) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]bool),
		signalChan:  make(chan Signal, 1000),
		logger:      logger.With("component", "bus"),
		metrics:     m,
		stopChan:    make(chan struct{}),
	}
}

// Start runs the broadcast worker until ctx is cancelled or Stop is
// called.
func (h *Hub) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.broadcastWorker(ctx)
}

// Stop drains in-flight broadcasts and returns once the worker has
// exited or ctx expires first.
func (h *Hub) Stop(ctx context.Context) error {
	close(h.stopChan)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches sub to the hub.
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info("subscriber attached", "subscriber_id", sub.ID(), "total", count)
	if h.metrics != nil {
		h.metrics.ConnectionsActive.Set(float64(count))
	}
}

// Unsubscribe detaches and closes sub.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.Close()
	h.logger.Info("subscriber detached", "subscriber_id", sub.ID(), "total", count)
	if h.metrics != nil {
		h.metrics.ConnectionsActive.Set(float64(count))
	}
}

// ActiveSubscribers returns the current subscriber count.
func (h *Hub) ActiveSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish queues a signal for broadcast, dropping it (and counting an
// error) if the outbound buffer is full rather than blocking the
// emitting component.
func (h *Hub) Publish(signal Signal) error {
	signal.Sequence = atomic.AddInt64(&h.sequence, 1)
	select {
	case h.signalChan <- signal:
		return nil
	default:
		h.logger.Warn("signal channel full, dropping signal", "name", signal.Name)
		if h.metrics != nil {
			h.metrics.ErrorsTotal.WithLabelValues("channel_full").Inc()
		}
		return ErrSignalChannelFull
	}
}

// Emit is a convenience wrapper building and publishing a signal in one
// call; callers that don't care about Publish's error (best-effort
// notification) use this.
func (h *Hub) Emit(name, path string, payload map[string]any) {
	_ = h.Publish(newSignal(name, path, payload))
}

func (h *Hub) broadcastWorker(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case signal := <-h.signalChan:
			h.broadcast(signal)
		}
	}
}

func (h *Hub) broadcast(signal Signal) {
	start := time.Now()

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			select {
			case <-sub.Context().Done():
				h.Unsubscribe(sub)
				return
			default:
			}
			if err := sub.Send(signal); err != nil {
				h.logger.Warn("signal delivery failed", "subscriber_id", sub.ID(), "name", signal.Name, "error", err)
				h.Unsubscribe(sub)
			}
		}(sub)
	}
	wg.Wait()

	if h.metrics != nil {
		h.metrics.SignalsTotal.WithLabelValues(signal.Name).Inc()
		h.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}
}
