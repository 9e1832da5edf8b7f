package syncrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/snapshot"
)

// memoryBackendFactory hands out one shared MemoryBackend per (config,
// source, side), so repeated calls within a test see the same store.
type memoryBackendFactory struct {
	backends map[string]*backend.MemoryBackend
}

func newMemoryBackendFactory() *memoryBackendFactory {
	return &memoryBackendFactory{backends: make(map[string]*backend.MemoryBackend)}
}

func (f *memoryBackendFactory) Factory(ctx context.Context, configName, sourceName string, remote bool) (backend.Backend, error) {
	key := configName + "/" + sourceName
	if remote {
		key += "/remote"
	}
	b, ok := f.backends[key]
	if !ok {
		b = backend.NewMemoryBackend(sourceName)
		f.backends[key] = b
	}
	return b, nil
}

func newTestConfig() *peerconfig.Config {
	cfg := peerconfig.NewConfig("scheduleworld")
	cfg.AddSource(&peerconfig.Source{
		Name:     "addressbook",
		Backend:  "evolution-contacts",
		MIMEType: "text/vcard",
		SyncMode: peerconfig.SyncTwoWay,
	})
	return cfg
}

func TestRunnerSyncReconcilesSourceAndReportsStatus(t *testing.T) {
	ctx := context.Background()
	factory := newMemoryBackendFactory()
	r := New("scheduleworld", factory.Factory, filepath.Join(t.TempDir(), "tracking"), t.TempDir(), 0)

	cfg := newTestConfig()

	localBackend, err := factory.Factory(ctx, cfg.Name, "addressbook", false)
	require.NoError(t, err)
	_, err = localBackend.Insert(ctx, "", []byte("new contact"))
	require.NoError(t, err)

	var phases []session.Phase
	statuses, err := r.Sync(ctx, cfg, nil, func(est session.Estimate) {
		phases = append(phases, est.Phase)
	})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "addressbook", statuses[0].Source)
	assert.Empty(t, statuses[0].Status)
	assert.Contains(t, phases, session.PhaseDone)

	remoteBackend, err := factory.Factory(ctx, cfg.Name, "addressbook", true)
	require.NoError(t, err)
	remoteItems, err := remoteBackend.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remoteItems, 1)
}

func TestRunnerSyncPersistsTrackerNodesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	factory := newMemoryBackendFactory()
	trackerRoot := filepath.Join(t.TempDir(), "tracking")
	r := New("scheduleworld", factory.Factory, trackerRoot, t.TempDir(), 0)

	cfg := newTestConfig()
	localBackend, err := factory.Factory(ctx, cfg.Name, "addressbook", false)
	require.NoError(t, err)
	_, err = localBackend.Insert(ctx, "", []byte("first sync"))
	require.NoError(t, err)

	_, err = r.Sync(ctx, cfg, nil, nil)
	require.NoError(t, err)

	nodePath := filepath.Join(trackerRoot, "scheduleworld", "addressbook.node")
	_, err = os.Stat(nodePath)
	require.NoError(t, err)

	// A second sync with no changes should report no work and not error.
	statuses, err := r.Sync(ctx, cfg, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, statuses[0].Status)
}

func TestRunnerSyncSkipsDisabledSources(t *testing.T) {
	ctx := context.Background()
	factory := newMemoryBackendFactory()
	r := New("scheduleworld", factory.Factory, filepath.Join(t.TempDir(), "tracking"), t.TempDir(), 0)

	cfg := peerconfig.NewConfig("scheduleworld")
	cfg.AddSource(&peerconfig.Source{Name: "calendar", Backend: "evolution-calendar", SyncMode: peerconfig.SyncDisabled})

	statuses, err := r.Sync(ctx, cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Empty(t, statuses[0].Status)
}

func TestRunnerRestoreReinsertsSnapshotItems(t *testing.T) {
	ctx := context.Background()
	factory := newMemoryBackendFactory()
	r := New("scheduleworld", factory.Factory, filepath.Join(t.TempDir(), "tracking"), t.TempDir(), 0)

	sessionDir := t.TempDir()
	snapDir := filepath.Join(sessionDir, "addressbook", "before")
	w, err := snapshot.NewWriter(snapDir, "", nil)
	require.NoError(t, err)
	require.NoError(t, w.Add("luid-1", "rev-1", []byte("restored contact")))
	_, err = w.Finish()
	require.NoError(t, err)

	require.NoError(t, r.Restore(ctx, sessionDir, true, nil))

	b, err := factory.Factory(ctx, "scheduleworld", "addressbook", false)
	require.NoError(t, err)
	data, err := b.Read(ctx, "luid-1")
	require.NoError(t, err)
	assert.Equal(t, "restored contact", string(data))
}

func TestRunnerExecuteRunsCommand(t *testing.T) {
	r := New("scheduleworld", newMemoryBackendFactory().Factory, t.TempDir(), t.TempDir(), 0)
	err := r.Execute(context.Background(), []string{"true"}, nil)
	require.NoError(t, err)
}

func TestRunnerExecuteRejectsEmptyArgv(t *testing.T) {
	r := New("scheduleworld", newMemoryBackendFactory().Factory, t.TempDir(), t.TempDir(), 0)
	err := r.Execute(context.Background(), nil, nil)
	assert.Error(t, err)
}
