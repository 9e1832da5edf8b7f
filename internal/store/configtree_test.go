package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

func TestConfigTreeStorePutGetRoundTrip(t *testing.T) {
	s, err := NewConfigTreeStore(t.TempDir(), 8)
	require.NoError(t, err)

	cfg := peerconfig.NewConfig("ScheduleWorld")
	cfg.SyncURL = []string{"https://sync.example.com"}
	cfg.RetryDuration = 90 * time.Second
	cfg.AddSource(&peerconfig.Source{
		Name:     "addressbook",
		Backend:  "evolution-contacts",
		MIMEType: "text/vcard",
		SyncMode: peerconfig.SyncTwoWay,
	})
	require.NoError(t, s.Put(cfg))

	loaded, ok, err := s.Get("scheduleworld")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"https://sync.example.com"}, loaded.SyncURL)
	assert.Equal(t, 90*time.Second, loaded.RetryDuration)
	src, ok := loaded.Source("addressbook")
	require.True(t, ok)
	assert.Equal(t, peerconfig.SyncTwoWay, src.SyncMode)
}

func TestConfigTreeStoreGetMissingReturnsFalse(t *testing.T) {
	s, err := NewConfigTreeStore(t.TempDir(), 8)
	require.NoError(t, err)

	_, ok, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigTreeStoreLoadBuildsTree(t *testing.T) {
	dir := t.TempDir()
	s, err := NewConfigTreeStore(dir, 8)
	require.NoError(t, err)

	require.NoError(t, s.Put(peerconfig.NewConfig("alpha")))
	require.NoError(t, s.Put(peerconfig.NewConfig("beta")))

	tree, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, tree.Names())
}

func TestConfigTreeStoreDeleteIsIdempotent(t *testing.T) {
	s, err := NewConfigTreeStore(t.TempDir(), 8)
	require.NoError(t, err)

	cfg := peerconfig.NewConfig("gamma")
	require.NoError(t, s.Put(cfg))
	require.NoError(t, s.Delete("gamma"))
	require.NoError(t, s.Delete("gamma"))

	_, ok, err := s.Get("gamma")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigTreeStoreGetServesFromCacheWithoutRereadingDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewConfigTreeStore(dir, 8)
	require.NoError(t, err)

	cfg := peerconfig.NewConfig("delta")
	require.NoError(t, s.Put(cfg))

	first, ok, err := s.Get("delta")
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := s.Get("delta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, first, second)
}
