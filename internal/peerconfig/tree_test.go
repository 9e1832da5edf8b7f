package peerconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeLayersContextDefaults(t *testing.T) {
	tree := NewTree()

	ctx := NewConfig("@default")
	ctx.RetryDuration = 45 * time.Second
	ctx.AutoSync = "http"
	tree.Put(ctx)

	peer := NewConfig("scheduleworld")
	peer.SyncURL = []string{"http://sync.example.com"}
	tree.Put(peer)

	resolved, ok := tree.Get("scheduleworld")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, resolved.RetryDuration)
	assert.Equal(t, "http", resolved.AutoSync)
	assert.Equal(t, []string{"http://sync.example.com"}, resolved.SyncURL)
}

func TestTreeGetMissingReturnsFalse(t *testing.T) {
	tree := NewTree()
	_, ok := tree.Get("nope")
	assert.False(t, ok)
}

func TestTreeNamesSorted(t *testing.T) {
	tree := NewTree()
	tree.Put(NewConfig("zeta"))
	tree.Put(NewConfig("alpha"))
	assert.Equal(t, []string{"alpha", "zeta"}, tree.Names())
}

func TestTreeDelete(t *testing.T) {
	tree := NewTree()
	tree.Put(NewConfig("foo"))
	tree.Delete("foo")
	_, ok := tree.Get("foo")
	assert.False(t, ok)
}
