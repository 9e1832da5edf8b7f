// Package store implements pimsyncd's durable persistence layer (spec.md
// §6 "Persisted state"): per-source change-tracking nodes, the per-peer
// config tree, and the sync-report database.
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/syncevo/pimsyncd/internal/tracker"
)

// lastSyncKey is the reserved key the change-tracking file uses to carry
// the node's opaque last-sync token alongside its luid->revision entries.
const lastSyncKey = "!last-sync"

// ChangeTrackerFile persists one source's tracker.Node as a flat
// key/value file, one line per entry: "<escaped-luid>=<escaped-revision>"
// (spec.md §6: "a flat key/value file containing one entry per luid
// whose value is the revision string").
type ChangeTrackerFile struct {
	path string
}

// NewChangeTrackerFile wraps the node file at path (typically
// "<store root>/<config>/<source>.node").
func NewChangeTrackerFile(path string) *ChangeTrackerFile {
	return &ChangeTrackerFile{path: path}
}

// Load reads the node from disk. A missing file yields an empty node,
// not an error — a source's first sync has nothing to load.
func (f *ChangeTrackerFile) Load() (*tracker.Node, error) {
	node := &tracker.Node{Revisions: make(map[string]string)}

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return node, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open change-tracking node %q: %w", f.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := unescape(line[:idx])
		value := unescape(line[idx+1:])
		if key == lastSyncKey {
			node.LastSync = value
			continue
		}
		node.Revisions[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read change-tracking node %q: %w", f.path, err)
	}
	return node, nil
}

// Save writes node to disk atomically (write-then-rename), with entries
// sorted for a stable, diff-friendly file.
func (f *ChangeTrackerFile) Save(node *tracker.Node) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create change-tracking dir: %w", err)
	}

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create change-tracking node %q: %w", tmp, err)
	}

	w := bufio.NewWriter(file)
	if node.LastSync != "" {
		fmt.Fprintf(w, "%s=%s\n", escape(lastSyncKey), escape(node.LastSync))
	}
	luids := make([]string, 0, len(node.Revisions))
	for luid := range node.Revisions {
		luids = append(luids, luid)
	}
	sort.Strings(luids)
	for _, luid := range luids {
		fmt.Fprintf(w, "%s=%s\n", escape(luid), escape(node.Revisions[luid]))
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("write change-tracking node: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close change-tracking node: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// isSafe reports whether b may appear literally: printable ASCII other
// than '=', '!' and line terminators.
func isSafe(b byte) bool {
	if b == '=' || b == '!' || b == '\n' || b == '\r' {
		return false
	}
	return b >= 0x21 && b < 0x7f
}

// escape hex-encodes every unsafe byte as "!xx" (spec.md §6).
func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "!%02x", c)
	}
	return b.String()
}

// unescape reverses escape; a malformed "!xx" sequence is left as-is.
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '!' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
