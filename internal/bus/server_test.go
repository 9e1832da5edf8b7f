package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/scheduler"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/store"
)

type fakeConfigStore struct {
	configs map[string]*peerconfig.Config
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{configs: make(map[string]*peerconfig.Config)}
}

func (f *fakeConfigStore) Load() (*peerconfig.Tree, error) {
	tree := peerconfig.NewTree()
	for _, cfg := range f.configs {
		tree.Put(cfg.Clone())
	}
	return tree, nil
}

func (f *fakeConfigStore) Get(name string) (*peerconfig.Config, bool, error) {
	cfg, ok := f.configs[peerconfig.Normalize(name)]
	if !ok {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

func (f *fakeConfigStore) Put(cfg *peerconfig.Config) error {
	f.configs[peerconfig.Normalize(cfg.Name)] = cfg.Clone()
	return nil
}

func (f *fakeConfigStore) Delete(name string) error {
	delete(f.configs, peerconfig.Normalize(name))
	return nil
}

type fakeReportStore struct{}

func (fakeReportStore) GetReports(ctx context.Context, configName string, offset, count int) ([]store.Report, error) {
	return nil, nil
}

type noopRunner struct{}

func (noopRunner) Sync(ctx context.Context, cfg *peerconfig.Config, modes map[string]peerconfig.SyncMode, progress func(session.Estimate)) ([]session.SourceStatus, error) {
	return nil, nil
}
func (noopRunner) Restore(ctx context.Context, dir string, before bool, sources []string) error {
	return nil
}
func (noopRunner) Execute(ctx context.Context, argv, envp []string) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeConfigStore) {
	t.Helper()
	hub := NewHub(discardLogger(), nil)
	sched := scheduler.New(discardLogger(), nil, 1)
	configs := newFakeConfigStore()
	opener := func(ctx context.Context, configName, sourceName string) (backend.Backend, error) {
		return backend.NewMemoryBackend(sourceName), nil
	}
	runnerOf := func(configName string) session.Runner { return noopRunner{} }
	s := NewServer(hub, sched, configs, fakeReportStore{}, nil, runnerOf, opener, discardLogger())
	return s, configs
}

func TestServerGetCapabilitiesAndVersions(t *testing.T) {
	s, _ := newTestServer(t)
	caps := s.GetCapabilities()
	for _, token := range []string{
		"ConfigChanged", "GetConfigName", "Notifications", "Version",
		"SessionFlags", "SessionAttach", "DatabaseProperties",
	} {
		assert.True(t, caps[token].(bool), "missing mandatory capability token %q", token)
	}
	assert.NotEmpty(t, s.GetVersions()["version"])
}

func TestServerStartSessionAndGetSessions(t *testing.T) {
	s, configs := newTestServer(t)
	cfg := peerconfig.NewConfig("scheduleworld")
	require.NoError(t, configs.Put(cfg))

	path, err := s.StartSession("scheduleworld")
	require.NoError(t, err)
	assert.Contains(t, s.GetSessions(), path)
}

func TestServerStartSessionNoSuchConfig(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.StartSession("nope")
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.NoSuchConfig, code)
}

func TestServerGetConfigSanitizesCredentials(t *testing.T) {
	s, configs := newTestServer(t)
	cfg := peerconfig.NewConfig("scheduleworld")
	cfg.CredentialsKey = "keyring-entry"
	require.NoError(t, configs.Put(cfg))

	props, err := s.GetConfig("scheduleworld", false)
	require.NoError(t, err)
	assert.Equal(t, "***", props["credentialsKey"])
}

func TestServerCheckSourceOpensAndClosesBackend(t *testing.T) {
	s, configs := newTestServer(t)
	cfg := peerconfig.NewConfig("scheduleworld")
	cfg.AddSource(&peerconfig.Source{Name: "addressbook", Backend: "memory", SyncMode: peerconfig.SyncTwoWay})
	require.NoError(t, configs.Put(cfg))

	require.NoError(t, s.CheckSource(context.Background(), "scheduleworld", "addressbook"))
}

func TestSessionHandleSetConfigPersistsUnlessTemporary(t *testing.T) {
	s, configs := newTestServer(t)
	cfg := peerconfig.NewConfig("scheduleworld")
	require.NoError(t, configs.Put(cfg))

	path, err := s.StartSession("scheduleworld")
	require.NoError(t, err)
	id := path[len("/org/pimsyncd/Session/"):]
	handle, ok := s.Handle(id)
	require.True(t, ok)

	require.NoError(t, handle.SetConfig(true, false, map[string]string{"PeerName": "My Phone"}))

	persisted, ok, err := configs.Get("scheduleworld")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "My Phone", persisted.PeerName)
}
