package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

func TestConnectionProcessBindsSessionByRemoteDeviceID(t *testing.T) {
	s, configs := newTestServer(t)
	cfg := peerconfig.NewConfig("scheduleworld")
	cfg.RemoteDeviceID = "IMEI:123456789"
	require.NoError(t, configs.Put(cfg))

	conn := NewConnection("1", s)
	err := conn.Process(context.Background(), []byte("IMEI:123456789"), "application/x-pimsyncd-ping")
	require.NoError(t, err)
	require.NotNil(t, conn.handle)
	assert.Equal(t, "scheduleworld", conn.handle.GetConfigName())
}

func TestConnectionProcessRejectsUnknownDevice(t *testing.T) {
	s, _ := newTestServer(t)
	conn := NewConnection("1", s)
	err := conn.Process(context.Background(), []byte("unknown-device"), "application/x-pimsyncd-ping")
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.NoSuchConfig, code)
}

func TestConnectionProcessRejectsUnsupportedContentType(t *testing.T) {
	s, _ := newTestServer(t)
	conn := NewConnection("1", s)
	err := conn.Process(context.Background(), []byte("irrelevant"), "application/vnd.syncml+xml")
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.TransportFailure, code)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)
	conn := NewConnection("1", s)
	require.NoError(t, conn.Close(true, ""))
	require.NoError(t, conn.Close(true, ""))
	require.NoError(t, conn.Close(false, "peer hung up"))
}

func TestConnectionProcessAfterCloseFails(t *testing.T) {
	s, _ := newTestServer(t)
	conn := NewConnection("1", s)
	require.NoError(t, conn.Close(true, ""))
	err := conn.Process(context.Background(), nil, "application/x-pimsyncd-ping")
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.InvalidCall, code)
}
