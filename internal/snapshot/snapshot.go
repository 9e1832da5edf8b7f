// Package snapshot implements the content-addressed item backup/restore
// layer (spec.md §4.3): each item's bytes are hashed and stored under a
// stable, sortable name, with a sibling metadata node mapping luid to
// counter and revision.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/syncevo/pimsyncd/internal/backend"
)

// hashSuffix distinguishes hash generations; only one is defined here,
// but a future weaker fallback can reuse a different suffix without
// colliding with existing snapshots.
const hashSuffix = "sha256"

// metaEntry is one item's backup metadata (spec.md: "{luid -> counter,
// revision}").
type metaEntry struct {
	Counter  int    `json:"counter"`
	Revision string `json:"revision"`
}

// Metadata is the sibling key/value node recording every item written
// into a snapshot directory.
type Metadata struct {
	Entries map[string]metaEntry `json:"entries"`
}

// Writer builds one snapshot directory, optionally reusing unchanged
// blobs from an older snapshot by hard-linking instead of copying.
type Writer struct {
	dir      string
	oldDir   string
	oldMeta  *Metadata
	meta     Metadata
	counter  int
}

// NewWriter prepares dir to receive a new snapshot. If oldDir/oldMeta are
// non-nil, items whose hash is already present there are hard-linked
// rather than rewritten.
func NewWriter(dir string, oldDir string, oldMeta *Metadata) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Writer{
		dir:     dir,
		oldDir:  oldDir,
		oldMeta: oldMeta,
		meta:    Metadata{Entries: make(map[string]metaEntry)},
	}, nil
}

// fileName returns the "<counter>-<hashsuffix>=<hex>" name for an item.
func fileName(counter int, hexDigest string) string {
	return fmt.Sprintf("%d-%s=%s", counter, hashSuffix, hexDigest)
}

// hashOf returns the hex SHA-256 digest of data.
func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// oldFileFor looks up an existing file in the prior snapshot with the
// same hash, returning its path if found.
func (w *Writer) oldFileFor(luid, digest string) (string, bool) {
	if w.oldMeta == nil {
		return "", false
	}
	entry, ok := w.oldMeta.Entries[luid]
	if !ok {
		return "", false
	}
	path := filepath.Join(w.oldDir, fileName(entry.Counter, digest))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Add writes one item into the snapshot, reusing the old snapshot's file
// via a hard link when its hash is unchanged.
func (w *Writer) Add(luid, revision string, data []byte) error {
	w.counter++
	digest := hashOf(data)
	name := fileName(w.counter, digest)
	dest := filepath.Join(w.dir, name)

	if oldPath, ok := w.oldFileFor(luid, digest); ok {
		if err := os.Link(oldPath, dest); err == nil {
			w.meta.Entries[luid] = metaEntry{Counter: w.counter, Revision: revision}
			return nil
		}
		// Fall through to a plain write if hard-linking failed (e.g.
		// cross-filesystem snapshot directories).
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot item %q: %w", luid, err)
	}
	w.meta.Entries[luid] = metaEntry{Counter: w.counter, Revision: revision}
	return nil
}

// Finish writes the metadata node, marking the snapshot complete. A
// snapshot directory without this file is considered invalid by Reset.
func (w *Writer) Finish() (*Metadata, error) {
	if err := writeMetadata(w.dir, &w.meta); err != nil {
		return nil, err
	}
	return &w.meta, nil
}

// Reset discards a partial snapshot directory so a retry can start
// cleanly (spec.md §4.3 "reset() discards a partial snapshot").
func Reset(dir string) error {
	if !hasMetadata(dir) {
		return os.RemoveAll(dir)
	}
	return nil
}

func metadataPath(dir string) string { return filepath.Join(dir, ".metadata") }

func hasMetadata(dir string) bool {
	_, err := os.Stat(metadataPath(dir))
	return err == nil
}

// LoadMetadata reads a snapshot directory's metadata node. Returns a
// wrapped fs.ErrNotExist if the directory has no completed snapshot.
func LoadMetadata(dir string) (*Metadata, error) {
	if !hasMetadata(dir) {
		return nil, fmt.Errorf("snapshot %q incomplete or absent: %w", dir, fs.ErrNotExist)
	}
	raw, err := os.ReadFile(metadataPath(dir))
	if err != nil {
		return nil, err
	}
	return parseMetadata(raw)
}

// RestoreReport summarizes a restore, whether or not it was a dry run.
type RestoreReport struct {
	Restored []string
	Removed  []string
}

// Restore iterates the snapshot and calls backend.Insert(luid, bytes)
// for each entry, then deletes any current item whose luid is absent
// from the snapshot. In dry-run mode no backend calls are made; the
// report is still fully populated.
func Restore(ctx context.Context, dir string, meta *Metadata, b backend.Backend, dryRun bool) (*RestoreReport, error) {
	report := &RestoreReport{}

	for luid, entry := range meta.Entries {
		if !dryRun {
			data, err := readByCounter(dir, entry.Counter)
			if err != nil {
				return nil, fmt.Errorf("read snapshot item %q: %w", luid, err)
			}
			if _, err := b.Insert(ctx, luid, data); err != nil {
				return nil, fmt.Errorf("restore item %q: %w", luid, err)
			}
		}
		report.Restored = append(report.Restored, luid)
	}
	sort.Strings(report.Restored)

	current, err := b.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list current items: %w", err)
	}
	for luid := range current {
		if _, keep := meta.Entries[luid]; !keep {
			if !dryRun {
				if err := b.Delete(ctx, luid); err != nil {
					return nil, fmt.Errorf("remove stale item %q: %w", luid, err)
				}
			}
			report.Removed = append(report.Removed, luid)
		}
	}
	sort.Strings(report.Removed)

	return report, nil
}

// readByCounter finds the snapshot file for counter regardless of its
// hash suffix, since the caller may not know the digest up front.
func readByCounter(dir string, counter int) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := strconv.Itoa(counter) + "-"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			return os.ReadFile(filepath.Join(dir, e.Name()))
		}
	}
	return nil, fmt.Errorf("no snapshot file for counter %d in %q", counter, dir)
}
