package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/backend"
)

func TestWriterAddAndFinishRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "", nil)
	require.NoError(t, err)

	require.NoError(t, w.Add("luid-1", "rev-1", []byte("hello")))
	require.NoError(t, w.Add("luid-2", "rev-2", []byte("world")))

	meta, err := w.Finish()
	require.NoError(t, err)
	assert.Len(t, meta.Entries, 2)

	loaded, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.Entries["luid-1"].Revision, loaded.Entries["luid-1"].Revision)
}

func TestResetDiscardsPartialSnapshot(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Add("luid-1", "rev-1", []byte("x")))
	// Deliberately skip Finish — no metadata node present.

	require.NoError(t, Reset(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestResetLeavesCompletedSnapshotAlone(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Add("luid-1", "rev-1", []byte("x")))
	_, err = w.Finish()
	require.NoError(t, err)

	require.NoError(t, Reset(dir))
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestWriterReusesUnchangedBlobViaHardLink(t *testing.T) {
	oldDir := t.TempDir()
	oldWriter, err := NewWriter(oldDir, "", nil)
	require.NoError(t, err)
	require.NoError(t, oldWriter.Add("luid-1", "rev-1", []byte("same content")))
	oldMeta, err := oldWriter.Finish()
	require.NoError(t, err)

	newDir := t.TempDir()
	newWriter, err := NewWriter(newDir, oldDir, oldMeta)
	require.NoError(t, err)
	require.NoError(t, newWriter.Add("luid-1", "rev-1", []byte("same content")))
	_, err = newWriter.Finish()
	require.NoError(t, err)

	entries, err := os.ReadDir(newDir)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Name() != ".metadata" {
			found = true
			info, statErr := os.Stat(filepath.Join(newDir, e.Name()))
			require.NoError(t, statErr)
			assert.NotZero(t, info.Size())
		}
	}
	assert.True(t, found)
}

func TestRestoreReinsertsAndRemovesStaleItems(t *testing.T) {
	ctx := context.Background()
	b := backend.NewMemoryBackend("addressbook")
	require.NoError(t, b.Open(ctx))

	// Live backend currently has an item the snapshot doesn't know about.
	strayRes, err := b.Insert(ctx, "", []byte("stray"))
	require.NoError(t, err)

	dir := t.TempDir()
	w, err := NewWriter(dir, "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Add("luid-keep", "rev-1", []byte("keep me")))
	meta, err := w.Finish()
	require.NoError(t, err)

	report, err := Restore(ctx, dir, meta, b, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"luid-keep"}, report.Restored)
	assert.Equal(t, []string{strayRes.LUID}, report.Removed)

	data, err := b.Read(ctx, "luid-keep")
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestRestoreDryRunDoesNotMutateBackend(t *testing.T) {
	ctx := context.Background()
	b := backend.NewMemoryBackend("addressbook")
	strayRes, err := b.Insert(ctx, "", []byte("stray"))
	require.NoError(t, err)

	dir := t.TempDir()
	w, err := NewWriter(dir, "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Add("luid-1", "rev-1", []byte("data")))
	meta, err := w.Finish()
	require.NoError(t, err)

	report, err := Restore(ctx, dir, meta, b, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"luid-1"}, report.Restored)
	assert.Equal(t, []string{strayRes.LUID}, report.Removed)

	// Dry run must report what it would remove without touching the
	// backend: the stray item is still there, and luid-1 was never
	// inserted.
	empty, err := b.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)
	_, err = b.Read(ctx, strayRes.LUID)
	require.NoError(t, err)
	_, err = b.Read(ctx, "luid-1")
	assert.Error(t, err)
}
