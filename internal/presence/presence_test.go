package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	kind   Kind
	events []bool
	delay  time.Duration
}

func (f *fakeProvider) Kind() Kind { return f.kind }

func (f *fakeProvider) Watch(stopCh <-chan struct{}, onChange func(available bool)) {
	go func() {
		for _, ev := range f.events {
			select {
			case <-stopCh:
				return
			case <-time.After(f.delay):
				onChange(ev)
			}
		}
	}()
}

func TestHTTPAssumedUpByDefault(t *testing.T) {
	m := New()
	st := m.Get(HTTP)
	assert.True(t, st.Available)
}

func TestRegisterOverridesDefaultUntilFirstEdge(t *testing.T) {
	m := New()
	defer m.Close()

	fp := &fakeProvider{kind: HTTP, events: []bool{false}, delay: time.Millisecond}
	m.Register(fp)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !m.Get(HTTP).Available {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.False(t, m.Get(HTTP).Available)
}

func TestOnEdgeFiresOncePerTransition(t *testing.T) {
	m := New()
	defer m.Close()

	var mu sync.Mutex
	var edges []bool
	m.OnEdge(func(kind Kind, st Status) {
		mu.Lock()
		edges = append(edges, st.Available)
		mu.Unlock()
	})

	fp := &fakeProvider{kind: Bluetooth, events: []bool{true, true, false}, delay: 2 * time.Millisecond}
	m.Register(fp)

	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// Only true->false transitions after the initial edge should fire;
	// the repeated "true" must be deduplicated.
	assert.LessOrEqual(t, len(edges), 2)
}

func TestCheckPresenceRequiresDelayAging(t *testing.T) {
	m := New()
	defer m.Close()

	spec := SyncURLSpec{URLs: []string{"https://sync.example.com/"}, AutoSyncDelay: time.Hour}
	result := m.CheckPresence(spec)
	assert.False(t, result.Reachable)
}

func TestCheckPresenceOtherTransportAlwaysAvailable(t *testing.T) {
	m := New()
	defer m.Close()
	spec := SyncURLSpec{URLs: []string{"local:custom"}}
	result := m.CheckPresence(spec)
	assert.True(t, result.Reachable)
	assert.Equal(t, []string{"local:custom"}, result.ReachableURLs)
}

func TestKindForURL(t *testing.T) {
	assert.Equal(t, HTTP, KindForURL("https://example.com"))
	assert.Equal(t, Bluetooth, KindForURL("obex-bt://aa:bb:cc"))
	assert.Equal(t, Other, KindForURL("local:sync"))
}

func TestHTTPProviderReportsEdgeOnPersistentFailure(t *testing.T) {
	var calls int
	boom := errors.New("unreachable")
	provider := NewHTTPProvider(func(ctx context.Context) error {
		calls++
		return boom
	}, 5*time.Millisecond)
	provider.policy.MaxRetries = 0

	stopCh := make(chan struct{})
	done := make(chan struct{})
	var mu sync.Mutex
	var once sync.Once
	var seen []bool
	provider.Watch(stopCh, func(available bool) {
		mu.Lock()
		seen = append(seen, available)
		n := len(seen)
		mu.Unlock()
		if n >= 2 {
			once.Do(func() {
				close(stopCh)
				close(done)
			})
		}
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for edges")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 1)
	assert.True(t, seen[0])
}
