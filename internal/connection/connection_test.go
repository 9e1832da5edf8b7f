package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMatcher struct {
	serverMatch, macMatch, deviceMatch string
	serverOK, macOK, deviceOK          bool
}

func (f fakeMatcher) MatchByServerID(id string) (string, bool)       { return f.serverMatch, f.serverOK }
func (f fakeMatcher) MatchByMACAddress(mac string) (string, bool)    { return f.macMatch, f.macOK }
func (f fakeMatcher) MatchByRemoteDeviceID(id string) (string, bool) { return f.deviceMatch, f.deviceOK }

type fakeHost struct {
	minted        string
	created       []string
	enqueued      []string
	abortedDevice string
}

func (f *fakeHost) MintConfigName(serverID string, now time.Time) string {
	f.minted = serverID + "_minted"
	return f.minted
}
func (f *fakeHost) CreateSession(configName, peerDeviceID string) (string, error) {
	f.created = append(f.created, configName)
	return "sess-" + configName, nil
}
func (f *fakeHost) AbortSessionsForDevice(peerDeviceID string) { f.abortedDevice = peerDeviceID }
func (f *fakeHost) Enqueue(sessionID string) error {
	f.enqueued = append(f.enqueued, sessionID)
	return nil
}

func TestProcessInSetupResolvesKnownConfig(t *testing.T) {
	matcher := fakeMatcher{serverMatch: "scheduleworld", serverOK: true}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{ServerID: "scheduleworld"}, false, matcher, host, time.Second)

	err := c.Process([]byte("msg"), "application/vnd.syncml+xml", time.Now())
	require.NoError(t, err)
	assert.Equal(t, Processing, c.State())
	assert.Equal(t, []string{"scheduleworld"}, host.created)
}

func TestProcessInSetupMintsNameWhenNoMatch(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{ServerID: "unknown-server"}, false, matcher, host, time.Second)

	err := c.Process([]byte("msg"), "application/vnd.syncml+xml", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "unknown-server_minted", host.minted)
}

func TestProcessWhileProcessingIsProtocolError(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{}, false, matcher, host, time.Second)
	require.NoError(t, c.Process([]byte("msg"), "text", time.Now()))

	err := c.Process([]byte("msg2"), "text", time.Now())
	assert.Error(t, err)
}

func TestWaitTimeoutExpiryTransitionsToFailed(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{}, false, matcher, host, 10*time.Millisecond)
	require.NoError(t, c.Process([]byte("msg"), "text", time.Now()))
	require.NoError(t, c.EnterWaiting())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Failed, c.State())
}

func TestCloseNormalFromFinal(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{}, false, matcher, host, time.Second)
	require.NoError(t, c.Process([]byte("msg"), "text", time.Now()))
	require.NoError(t, c.MarkFinal())
	c.Close(true, nil)
	assert.Equal(t, Done, c.State())
}

func TestCloseAbnormalRecordsError(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{}, false, matcher, host, time.Second)
	boom := assert.AnError
	c.Close(false, boom)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, boom, c.LastError())
}

func TestAbortIsIdempotentAndFiresCallback(t *testing.T) {
	matcher := fakeMatcher{}
	host := &fakeHost{}
	c := New("conn-1", PeerDescriptor{}, false, matcher, host, time.Second)
	calls := 0
	c.OnAbort(func() { calls++ })
	c.Abort()
	c.Abort()
	assert.Equal(t, 2, calls)
}

func TestPeerDescriptorStringFormat(t *testing.T) {
	p := PeerDescriptor{Description: "Phone", TransportKind: "http", TransportDesc: "https://example.com"}
	assert.Equal(t, "Phone (conn-1 via http https://example.com)", p.String("conn-1"))
}
