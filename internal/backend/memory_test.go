package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendInsertReadDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("addressbook")
	require.NoError(t, b.Open(ctx))

	res, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, Ok, res.Disposition)
	assert.NotEmpty(t, res.LUID)
	assert.NotEmpty(t, res.Revision)

	data, err := b.Read(ctx, res.LUID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Alice")

	require.NoError(t, b.Delete(ctx, res.LUID))
	_, err = b.Read(ctx, res.LUID)
	assert.Error(t, err)
}

func TestMemoryBackendUpdateChangesRevision(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("addressbook")

	res, err := b.Insert(ctx, "", []byte("v1"))
	require.NoError(t, err)

	res2, err := b.Insert(ctx, res.LUID, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, res.LUID, res2.LUID)
	assert.NotEqual(t, res.Revision, res2.Revision)
}

func TestMemoryBackendInsertDuplicateContentIsReplaced(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("addressbook")

	first, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, Ok, first.Disposition)

	dup, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, Replaced, dup.Disposition)
	assert.Equal(t, first.LUID, dup.LUID)

	all, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryBackendDeleteNonexistentIsError(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("addressbook")
	err := b.Delete(ctx, "missing")
	assert.Error(t, err)
}

func TestMemoryBackendIsEmptyAndListAll(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("addressbook")

	empty, err := b.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = b.Insert(ctx, "", []byte("x"))
	require.NoError(t, err)

	empty, err = b.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	all, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryBackendDatabases(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend("calendar")
	dbs, err := b.Databases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.True(t, dbs[0].IsDefault)
	assert.Equal(t, "calendar", dbs[0].Name)
}
