package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/tracker"
)

func TestChangeTrackerFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addressbook.node")
	f := NewChangeTrackerFile(path)

	node, err := f.Load()
	require.NoError(t, err)
	assert.Empty(t, node.Revisions)
	assert.Empty(t, node.LastSync)

	node.Revisions["luid-1"] = "rev=1"
	node.Revisions["luid 2"] = "rev!2"
	node.LastSync = "token-abc"
	require.NoError(t, f.Save(node))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "token-abc", loaded.LastSync)
	assert.Equal(t, "rev=1", loaded.Revisions["luid-1"])
	assert.Equal(t, "rev!2", loaded.Revisions["luid 2"])
}

func TestChangeTrackerFileLoadMissingIsEmptyNotError(t *testing.T) {
	f := NewChangeTrackerFile(filepath.Join(t.TempDir(), "nope.node"))
	node, err := f.Load()
	require.NoError(t, err)
	assert.NotNil(t, node.Revisions)
	assert.Empty(t, node.Revisions)
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", "with=equals", "with!bang", "space here", "new\nline"} {
		assert.Equal(t, s, unescape(escape(s)))
	}
}

func TestChangeTrackerFileSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "calendar.node")
	f := NewChangeTrackerFile(path)

	node := &tracker.Node{Revisions: map[string]string{"a": "1"}}
	require.NoError(t, f.Save(node))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
