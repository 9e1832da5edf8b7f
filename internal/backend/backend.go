// Package backend defines the datastore contract every synchronization
// source implements (spec.md §4.1), plus an in-memory reference
// implementation used by tests and as the remote side of the loopback
// sync engine.
package backend

import "context"

// Disposition reports how insert() resolved a write.
type Disposition int

const (
	// Ok: a plain new item or update, no domain-specific conflict.
	Ok Disposition = iota
	// Replaced: an add collided with an existing item via a
	// domain-specific key (e.g. an iCalendar UID) and was upgraded to
	// an update of that item.
	Replaced
	// Merged: the stored content now differs from the bytes supplied;
	// the caller must read the item back and schedule an upstream
	// update.
	Merged
	// NeedsMerge: like Merged, but naming the other luid involved so
	// the caller can reconcile both sides.
	NeedsMerge
)

// InsertResult is the outcome of Backend.Insert.
type InsertResult struct {
	LUID        string
	Revision    string
	Disposition Disposition
	OtherLUID   string // set only when Disposition == NeedsMerge
}

// Database describes one addressable store a Backend can open against.
type Database struct {
	Name      string
	URI       string
	IsDefault bool
}

// Backend is the datastore contract a Source opens against (spec.md
// §4.1). Implementations must not leak native handles across Close, and
// must keep LUIDs stable across process restarts.
type Backend interface {
	// Open establishes (or re-establishes) the session against the
	// underlying store. Idempotent, must be cheap.
	Open(ctx context.Context) error

	// Close releases any resources acquired by Open. Idempotent.
	Close(ctx context.Context) error

	// ListAll enumerates every item's current revision. Expensive;
	// called at most once per sync session.
	ListAll(ctx context.Context) (map[string]string, error)

	// Read fetches an item's bytes in the backend's declared
	// interchange format.
	Read(ctx context.Context, luid string) ([]byte, error)

	// Insert adds (luid == "") or updates (luid != "") an item.
	Insert(ctx context.Context, luid string, data []byte) (InsertResult, error)

	// Delete removes an item. Deleting a nonexistent luid is an error,
	// not a no-op.
	Delete(ctx context.Context, luid string) error

	// IsEmpty is an optional fast path used only to decide whether to
	// allow a first slow sync automatically.
	IsEmpty(ctx context.Context) (bool, error)

	// Databases enumerates addressable stores this backend exposes.
	Databases(ctx context.Context) ([]Database, error)
}
