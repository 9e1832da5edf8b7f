package admindata

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	return s, mr
}

func TestRedisStoreBlobRoundTrip(t *testing.T) {
	s, mr := setupTestRedisStore(t)
	defer mr.Close()
	defer s.Close()
	ctx := context.Background()

	missing, err := s.LoadBlob(ctx, "addressbook")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveBlob(ctx, "addressbook", []byte("opaque-blob")))
	data, err := s.LoadBlob(ctx, "addressbook")
	require.NoError(t, err)
	assert.Equal(t, "opaque-blob", string(data))
}

func TestRedisStoreMapItemsRoundTrip(t *testing.T) {
	s, mr := setupTestRedisStore(t)
	defer mr.Close()
	defer s.Close()
	ctx := context.Background()

	items, err := s.LoadMapItems(ctx, "addressbook")
	require.NoError(t, err)
	assert.Empty(t, items)

	want := []MapItem{{LocalID: "local-1", RemoteID: "remote-1"}}
	require.NoError(t, s.SaveMapItems(ctx, "addressbook", want))

	loaded, err := s.LoadMapItems(ctx, "addressbook")
	require.NoError(t, err)
	assert.Equal(t, want, loaded)
}
