// Package tracker computes added/updated/deleted sets between a previous
// and current {luid -> revision} snapshot, and enforces the quiescence
// delay that protects low-resolution revision sources (spec.md §4.2).
package tracker

import (
	"context"
	"time"
)

// Mode selects how Detect computes its changes.
type Mode int

const (
	// Full recomputes everything from a fresh ListAll snapshot.
	Full Mode = iota
	// Slow behaves like Full but additionally reports every unchanged
	// current item as updated, i.e. "seen fresh" (used to force a slow
	// sync).
	Slow
	// None skips ListAll entirely; the previous map is fed back to the
	// caller as the authoritative snapshot (nothing changed).
	None
)

// Changes is the result of comparing a previous and current snapshot.
type Changes struct {
	Added   map[string]string // luid -> revision
	Updated map[string]string
	Deleted map[string]string // luid -> last known revision
}

// Node is the durable {luid -> revision} map persisted per source
// between sync sessions (spec.md §3 "change-tracking node").
type Node struct {
	Revisions map[string]string
	LastSync  string // opaque last-sync token, engine-defined
}

// Tracker wraps a Node with the quiescence-delay and update-rule logic
// spec.md §4.2 requires.
type Tracker struct {
	node        *Node
	granularity time.Duration
	lastMutate  time.Time
}

// New wraps node, enforcing a quiescence delay of granularity at End.
func New(node *Node, granularity time.Duration) *Tracker {
	if node.Revisions == nil {
		node.Revisions = make(map[string]string)
	}
	return &Tracker{node: node, granularity: granularity}
}

// Node returns the tracker's underlying durable state.
func (t *Tracker) Node() *Node { return t.node }

// Detect computes the added/updated/deleted sets for mode against
// current (the result of the backend's ListAll, ignored for Mode ==
// None).
func (t *Tracker) Detect(mode Mode, current map[string]string) Changes {
	prev := t.node.Revisions
	changes := Changes{
		Added:   make(map[string]string),
		Updated: make(map[string]string),
		Deleted: make(map[string]string),
	}

	if mode == None {
		return changes
	}

	for luid, rev := range current {
		oldRev, existed := prev[luid]
		switch {
		case !existed:
			changes.Added[luid] = rev
		case oldRev != rev:
			changes.Updated[luid] = rev
		case mode == Slow:
			// Seen fresh but unchanged: still reported as an update so
			// the caller can resend it during a forced slow sync.
			changes.Updated[luid] = rev
		}
	}
	for luid, rev := range prev {
		if _, stillPresent := current[luid]; !stillPresent {
			changes.Deleted[luid] = rev
		}
	}
	return changes
}

// RecordAddOrUpdate applies the post-operation update rule: the new luid
// takes newRevision, and if the operation renamed the item (oldLUID !=
// newLUID), the old entry is removed.
func (t *Tracker) RecordAddOrUpdate(oldLUID, newLUID, newRevision string) {
	t.node.Revisions[newLUID] = newRevision
	if oldLUID != "" && oldLUID != newLUID {
		delete(t.node.Revisions, oldLUID)
	}
	t.lastMutate = time.Now()
}

// RecordDelete applies the post-delete update rule.
func (t *Tracker) RecordDelete(luid string) {
	delete(t.node.Revisions, luid)
	t.lastMutate = time.Now()
}

// EndSession blocks until at least granularity has elapsed since the
// last recorded mutation, or ctx is cancelled. This stops a backend whose
// revision is a 1-second-resolution timestamp from missing a
// modification made within the same tick as the snapshot.
func (t *Tracker) EndSession(ctx context.Context) error {
	if t.lastMutate.IsZero() || t.granularity <= 0 {
		return nil
	}
	remaining := t.granularity - time.Since(t.lastMutate)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
