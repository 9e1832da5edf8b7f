package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StatusDatastoreFailure, "addressbook", "insert_item", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "addressbook")
	assert.Contains(t, err.Error(), "insert_item")
}

func TestCodeOf(t *testing.T) {
	err := New(NoSuchConfig, "scheduleworld")
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, NoSuchConfig, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestTemporaryClassification(t *testing.T) {
	assert.True(t, IsTemporary(New(TransportFailure, "")))
	assert.False(t, IsTemporary(New(StatusPasswordTimeout, "")))
	assert.False(t, IsTemporary(New(StatusDatastoreFailure, "")))
	assert.False(t, IsTemporary(errors.New("plain")))
}

func TestBusErrorName(t *testing.T) {
	assert.Equal(t, "org.syncevolution.NoSuchConfig", BusErrorName(NoSuchConfig))
}

func TestIs(t *testing.T) {
	err := Wrap(InvalidCall, "", "set_config", errors.New("unknown property"))
	assert.True(t, Is(err, InvalidCall))
	assert.False(t, Is(err, NoSuchSource))
}
