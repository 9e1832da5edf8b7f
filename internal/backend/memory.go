package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/syncevo/pimsyncd/internal/apperror"
)

// MemoryBackend is a reference Backend implementation over an in-memory
// map, used by tests and as the remote side of the loopback sync
// engine (cmd/pimsyncd's backend registry). LUIDs are
// content-stable within a process but, unlike a real backend, are not
// persisted across restarts.
type MemoryBackend struct {
	mu sync.RWMutex
	// domainIndex stands in for a real backend's domain-specific key
	// (e.g. an iCalendar UID): content revision -> luid, consulted only
	// on an add (luid == "") to resolve a duplicate to Replaced.
	domainIndex map[string]string
	items       map[string]record
	name        string
	open        bool
}

type record struct {
	data     []byte
	revision string
}

// NewMemoryBackend returns an empty backend identified by name (used in
// Databases()).
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{
		items:       make(map[string]record),
		domainIndex: make(map[string]string),
		name:        name,
	}
}

// Open implements Backend.
func (m *MemoryBackend) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// ListAll implements Backend.
func (m *MemoryBackend) ListAll(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.items))
	for luid, rec := range m.items {
		out[luid] = rec.revision
	}
	return out, nil
}

// Read implements Backend.
func (m *MemoryBackend) Read(ctx context.Context, luid string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[luid]
	if !ok {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, m.name, "read", fmt.Errorf("no such item %q", luid))
	}
	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	return out, nil
}

// Insert implements Backend. A nil/empty luid is an add; a populated one
// is an update. An add whose bytes match an existing item's domain key
// (here, content revision, standing in for a real backend's UID-style
// key) is upgraded to Replaced against that item's luid rather than
// creating a duplicate (spec.md §8 boundary behavior).
func (m *MemoryBackend) Insert(ctx context.Context, luid string, data []byte) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rev := contentRevision(data)

	if luid == "" {
		if existing, ok := m.domainIndex[rev]; ok {
			if _, ok := m.items[existing]; ok {
				return InsertResult{LUID: existing, Revision: rev, Disposition: Replaced}, nil
			}
			delete(m.domainIndex, rev)
		}
		luid = uuid.NewString()
	} else if old, ok := m.items[luid]; ok && old.revision != rev {
		delete(m.domainIndex, old.revision)
	}
	// An update targeting a luid this backend no longer holds is still
	// accepted: the snapshot/restore layer (component C) re-inserts
	// items by their original luid after a rollback, when the live
	// backend may have already lost them.
	m.items[luid] = record{data: cloneBytes(data), revision: rev}
	m.domainIndex[rev] = luid
	return InsertResult{LUID: luid, Revision: rev, Disposition: Ok}, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, luid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[luid]
	if !ok {
		return apperror.Wrap(apperror.StatusDatastoreFailure, m.name, "delete", fmt.Errorf("no such item %q", luid))
	}
	delete(m.items, luid)
	if m.domainIndex[rec.revision] == luid {
		delete(m.domainIndex, rec.revision)
	}
	return nil
}

// IsEmpty implements Backend.
func (m *MemoryBackend) IsEmpty(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items) == 0, nil
}

// Databases implements Backend.
func (m *MemoryBackend) Databases(ctx context.Context) ([]Database, error) {
	return []Database{{Name: m.name, URI: "memory://" + m.name, IsDefault: true}}, nil
}

func contentRevision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func cloneBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
