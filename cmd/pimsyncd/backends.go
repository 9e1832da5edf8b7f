package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/backend/sqlitebackend"
)

// backendRegistry hands back the same backend.Backend instance for a
// given (config, source, side) triple across the process lifetime. The
// local side is a durable sqlitebackend.SQLiteBackend, one database file
// per (config, source) under rootDir; the remote side has no real
// SyncML peer to dial (spec.md §1 non-goal) and stays an in-memory
// backend.MemoryBackend for the loopback sync engine to reconcile
// against. The registry is the process-local stand-in for what would
// otherwise be a cached per-source datastore handle.
type backendRegistry struct {
	mu      sync.Mutex
	rootDir string
	items   map[string]backend.Backend
}

func newBackendRegistry(rootDir string) *backendRegistry {
	return &backendRegistry{items: make(map[string]backend.Backend), rootDir: rootDir}
}

func (r *backendRegistry) key(configName, sourceName string, remote bool) string {
	side := "local"
	if remote {
		side = "remote"
	}
	return fmt.Sprintf("%s/%s/%s", configName, sourceName, side)
}

func (r *backendRegistry) dbPath(configName, sourceName string) string {
	return filepath.Join(r.rootDir, "backends", configName, sourceName+".db")
}

// get returns (creating on first use) the backend for this key.
func (r *backendRegistry) get(ctx context.Context, configName, sourceName string, remote bool) (backend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.key(configName, sourceName, remote)
	if b, ok := r.items[key]; ok {
		return b, nil
	}
	if remote {
		b := backend.NewMemoryBackend(sourceName)
		r.items[key] = b
		return b, nil
	}
	b, err := sqlitebackend.Open(ctx, r.dbPath(configName, sourceName), sourceName)
	if err != nil {
		return nil, fmt.Errorf("open backend %s/%s: %w", configName, sourceName, err)
	}
	r.items[key] = b
	return b, nil
}

// open implements bus.BackendOpener: the local side, the one
// CheckSource/GetDatabases inspect.
func (r *backendRegistry) open(ctx context.Context, configName, sourceName string) (backend.Backend, error) {
	return r.get(ctx, configName, sourceName, false)
}

// factory implements internal/syncrunner.BackendFactory: either side,
// the one internal/syncengine reconciles across.
func (r *backendRegistry) factory(ctx context.Context, configName, sourceName string, remote bool) (backend.Backend, error) {
	return r.get(ctx, configName, sourceName, remote)
}
