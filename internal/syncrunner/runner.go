// Package syncrunner implements session.Runner: it wires component D's
// Adapter-free reconciliation (internal/syncengine) and component C's
// snapshot/restore machinery into the concrete Sync/Restore/Execute a
// Session drives (spec.md §4.5, §8).
package syncrunner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/snapshot"
	"github.com/syncevo/pimsyncd/internal/store"
	"github.com/syncevo/pimsyncd/internal/syncengine"
	"github.com/syncevo/pimsyncd/internal/tracker"
)

// BackendFactory opens the backend for one named source, either the
// peer's production store (remote == false) or the loopback store
// standing in for the far side of the sync (remote == true; see
// internal/syncengine's doc comment for why).
type BackendFactory func(ctx context.Context, configName, sourceName string, remote bool) (backend.Backend, error)

// Runner implements session.Runner for one config, driving every
// enabled source through internal/syncengine in Config order.
type Runner struct {
	configName   string
	backends     BackendFactory
	trackerRoot  string
	snapshotRoot string
	granularity  time.Duration
	engine       *syncengine.Engine
}

// New returns a Runner scoped to configName. trackerRoot is where
// change-tracking node files live (spec.md §6); snapshotRoot is where
// per-session backup directories live.
func New(configName string, backends BackendFactory, trackerRoot, snapshotRoot string, granularity time.Duration) *Runner {
	return &Runner{
		configName:   configName,
		backends:     backends,
		trackerRoot:  trackerRoot,
		snapshotRoot: snapshotRoot,
		granularity:  granularity,
		engine:       syncengine.New(),
	}
}

// Sync drives every source in cfg, in order, reporting coarse
// per-source progress (the engine does not expose per-item progress,
// since the real wire codec — the natural place to count messages — is
// out of scope per spec.md §1).
func (r *Runner) Sync(ctx context.Context, cfg *peerconfig.Config, perSourceModes map[string]peerconfig.SyncMode, progress func(session.Estimate)) ([]session.SourceStatus, error) {
	sources := cfg.Sources()
	total := len(sources)

	report := func(phase session.Phase, done int) {
		if progress == nil {
			return
		}
		progress(session.Estimate{
			Phase:        phase,
			SendCount:    done,
			RecvCount:    done,
			ExpectedSend: total,
			ExpectedRecv: total,
		})
	}

	report(session.PhasePrepare, 0)
	report(session.PhaseInit, 0)

	statuses := make([]session.SourceStatus, 0, total)
	var firstErr error

	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			statuses = append(statuses, session.SourceStatus{Source: src.Name, Status: apperror.StatusUserAbort})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		mode := src.SyncMode
		if m, ok := perSourceModes[src.Name]; ok && m != "" {
			mode = m
		}

		status := session.SourceStatus{Source: src.Name}
		if err := r.syncOneSource(ctx, cfg.Name, src, mode); err != nil {
			if code, ok := apperror.CodeOf(err); ok {
				status.Status = code
			} else {
				status.Status = apperror.StatusDatastoreFailure
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		statuses = append(statuses, status)
		report(session.PhaseData, i+1)
	}

	report(session.PhaseUninit, total)
	report(session.PhaseDone, total)
	return statuses, firstErr
}

func (r *Runner) syncOneSource(ctx context.Context, configName string, src *peerconfig.Source, mode peerconfig.SyncMode) error {
	if mode == peerconfig.SyncDisabled {
		return nil
	}

	localBackend, err := r.backends(ctx, configName, src.Name, false)
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "open_local", err)
	}
	if err := localBackend.Open(ctx); err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "open_local", err)
	}
	defer localBackend.Close(ctx)

	remoteBackend, err := r.backends(ctx, configName, src.Name, true)
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "open_remote", err)
	}
	if err := remoteBackend.Open(ctx); err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "open_remote", err)
	}
	defer remoteBackend.Close(ctx)

	localFile := store.NewChangeTrackerFile(filepath.Join(r.trackerRoot, configName, src.Name+".node"))
	remoteFile := store.NewChangeTrackerFile(filepath.Join(r.trackerRoot, configName, src.Name+".remote.node"))

	localNode, err := localFile.Load()
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "load_tracker", err)
	}
	remoteNode, err := remoteFile.Load()
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "load_tracker", err)
	}

	localTracker := tracker.New(localNode, r.granularity)
	remoteTracker := tracker.New(remoteNode, r.granularity)

	pair := syncengine.SourcePair{
		Name:          src.Name,
		Local:         localBackend,
		Remote:        remoteBackend,
		LocalTracker:  localTracker,
		RemoteTracker: remoteTracker,
	}
	if _, err := r.engine.SyncSource(ctx, mode, pair); err != nil {
		return err
	}

	if err := localFile.Save(localTracker.Node()); err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "save_tracker", err)
	}
	if err := remoteFile.Save(remoteTracker.Node()); err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, src.Name, "save_tracker", err)
	}
	return nil
}

// Restore restores sources (or every source found under dir, if
// sources is empty) from the "before" or "after" backup snapshot inside
// dir (spec.md §6 "Backup directory per session").
func (r *Runner) Restore(ctx context.Context, dir string, before bool, sources []string) error {
	variant := "after"
	if before {
		variant = "before"
	}

	names := sources
	if len(names) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return apperror.Wrap(apperror.StatusDatastoreFailure, "", "restore_list", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		snapDir := filepath.Join(dir, name, variant)
		meta, err := snapshot.LoadMetadata(snapDir)
		if err != nil {
			return apperror.Wrap(apperror.StatusDatastoreFailure, name, "restore_metadata", err)
		}

		b, err := r.backends(ctx, r.configName, name, false)
		if err != nil {
			return apperror.Wrap(apperror.StatusDatastoreFailure, name, "restore_open", err)
		}
		if err := b.Open(ctx); err != nil {
			return apperror.Wrap(apperror.StatusDatastoreFailure, name, "restore_open", err)
		}
		_, err = snapshot.Restore(ctx, snapDir, meta, b, false)
		b.Close(ctx)
		if err != nil {
			return apperror.Wrap(apperror.StatusDatastoreFailure, name, "restore", err)
		}
	}
	return nil
}

// Execute runs a command-line operation inside the session, serialized
// by the scheduler alongside syncs (spec.md §4.5).
func (r *Runner) Execute(ctx context.Context, argv, envp []string) error {
	if len(argv) == 0 {
		return apperror.New(apperror.InvalidCall, "execute requires a non-empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(envp) > 0 {
		cmd.Env = append(os.Environ(), envp...)
	}
	if err := cmd.Run(); err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, "", "execute", err)
	}
	return nil
}
