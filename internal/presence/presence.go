// Package presence implements the presence monitor (spec.md §4.9):
// per-transport-kind availability tracking fed by pluggable OS-level
// Providers, plus per-peer URL reachability.
package presence

import (
	"strings"
	"sync"
	"time"
)

// Kind identifies a transport kind the monitor tracks.
type Kind string

const (
	HTTP      Kind = "http"
	Bluetooth Kind = "obex-bt"
	Other     Kind = "other"
)

// Status is one transport kind's current availability.
type Status struct {
	Available bool
	Since     time.Time
}

// Provider is a pluggable OS-level presence source (a ConnMan-style
// service, a NetworkManager-style service, a Bluetooth-manager
// service). It reports edges via the callback passed to Watch.
type Provider interface {
	// Kind names the transport this provider reports on.
	Kind() Kind
	// Watch starts reporting edges to onChange(available) until stopCh
	// closes, and returns immediately (implementations run their poll
	// loop on their own goroutine). Called at most once per Provider.
	Watch(stopCh <-chan struct{}, onChange func(available bool))
}

// Monitor tracks availability per transport Kind, emitting one signal
// per edge.
type Monitor struct {
	mu        sync.RWMutex
	status    map[Kind]Status
	listeners []func(kind Kind, status Status)
	stopCh    chan struct{}
}

// New creates a Monitor. If no HTTP provider is ever registered, HTTP is
// assumed up from construction (spec.md §4.9 "If none are present, HTTP
// is assumed up").
func New() *Monitor {
	m := &Monitor{
		status: map[Kind]Status{
			HTTP: {Available: true, Since: time.Time{}},
		},
		stopCh: make(chan struct{}),
	}
	return m
}

// OnEdge registers a callback fired whenever any tracked kind's
// availability changes (the "Presence(peer, status, transport)" signal
// surface, spec.md §6, is built on top of this at the bus layer).
func (m *Monitor) OnEdge(fn func(kind Kind, status Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Register wires a Provider into the monitor, overriding the
// HTTP-assumed-up default once any provider for that kind attaches.
func (m *Monitor) Register(p Provider) {
	kind := p.Kind()
	m.mu.Lock()
	// A real provider takes over; clear the "assumed up" default until
	// it reports its first edge.
	m.status[kind] = Status{}
	m.mu.Unlock()

	p.Watch(m.stopCh, func(available bool) {
		m.setAvailable(kind, available)
	})
}

func (m *Monitor) setAvailable(kind Kind, available bool) {
	now := monotonicNow()

	m.mu.Lock()
	cur := m.status[kind]
	if cur.Available == available {
		m.mu.Unlock()
		return
	}
	var next Status
	if available {
		next = Status{Available: true, Since: now}
	} else {
		next = Status{Available: false}
	}
	m.status[kind] = next
	listeners := append([]func(Kind, Status){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(kind, next)
	}
}

// Get returns the current status for kind.
func (m *Monitor) Get(kind Kind) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[kind]
}

// Close stops all registered providers' watch loops.
func (m *Monitor) Close() {
	close(m.stopCh)
}

// monotonicNow exists so tests can't accidentally rely on wall-clock
// comparisons; time.Now() already carries a monotonic reading in Go.
func monotonicNow() time.Time { return time.Now() }

// ReachabilityResult is what CheckPresence returns for one peer
// (spec.md §6 "CheckPresence(peer) -> (status, [transport])").
type ReachabilityResult struct {
	Reachable     bool
	ReachableURLs []string
}

// SyncURLSpec is the minimal peer shape CheckPresence needs: the
// ordered URL list and the auto-sync delay that gates "aged enough"
// reachability (spec.md §4.9).
type SyncURLSpec struct {
	URLs          []string
	AutoSyncDelay time.Duration
}

// CheckPresence computes per-URL reachability for one peer: a URL is
// reachable iff its implied transport is available *and* has been
// available for >= spec.AutoSyncDelay.
func (m *Monitor) CheckPresence(spec SyncURLSpec) ReachabilityResult {
	var reachable []string
	for _, url := range spec.URLs {
		kind := KindForURL(url)
		if kind == Other {
			reachable = append(reachable, url)
			continue
		}
		st := m.Get(kind)
		if !st.Available {
			continue
		}
		if spec.AutoSyncDelay <= 0 || !st.Since.IsZero() && time.Since(st.Since) >= spec.AutoSyncDelay {
			reachable = append(reachable, url)
		}
	}
	return ReachabilityResult{Reachable: len(reachable) > 0, ReachableURLs: reachable}
}

// KindForURL classifies a syncURL's scheme into a transport Kind.
func KindForURL(url string) Kind {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return HTTP
	case strings.HasPrefix(lower, "obex-bt://"), strings.HasPrefix(lower, "bt://"):
		return Bluetooth
	default:
		return Other
	}
}
