package sqlitebackend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/backend"
)

func openTest(t *testing.T) *SQLiteBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.db")
	b, err := Open(context.Background(), path, "addressbook")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestSQLiteBackendInsertReadDelete(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	res, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, backend.Ok, res.Disposition)
	assert.NotEmpty(t, res.LUID)
	assert.NotEmpty(t, res.Revision)

	data, err := b.Read(ctx, res.LUID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Alice")

	require.NoError(t, b.Delete(ctx, res.LUID))
	_, err = b.Read(ctx, res.LUID)
	assert.Error(t, err)
}

func TestSQLiteBackendUpdateChangesRevision(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	res, err := b.Insert(ctx, "", []byte("v1"))
	require.NoError(t, err)

	res2, err := b.Insert(ctx, res.LUID, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, res.LUID, res2.LUID)
	assert.NotEqual(t, res.Revision, res2.Revision)
}

func TestSQLiteBackendInsertDuplicateContentIsReplaced(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

	first, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, backend.Ok, first.Disposition)

	dup, err := b.Insert(ctx, "", []byte("BEGIN:VCARD\nFN:Alice\nEND:VCARD"))
	require.NoError(t, err)
	assert.Equal(t, backend.Replaced, dup.Disposition)
	assert.Equal(t, first.LUID, dup.LUID)

	all, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteBackendDeleteNonexistentIsError(t *testing.T) {
	b := openTest(t)
	err := b.Delete(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteBackendIsEmptyAndListAll(t *testing.T) {
	ctx := context.Background()
	b := openTest(t)

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

func TestSQLiteBackendDatabases(t *testing.T) {
	b := openTest(t)
	dbs, err := b.Databases(context.Background())
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.True(t, dbs[0].IsDefault)
	assert.Equal(t, "addressbook", dbs[0].Name)
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "items.db")

	b1, err := Open(ctx, path, "addressbook")
	require.NoError(t, err)
	res, err := b1.Insert(ctx, "", []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, b1.Close(ctx))

	b2, err := Open(ctx, path, "addressbook")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close(ctx) })

	data, err := b2.Read(ctx, res.LUID)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
}
