// Package syncengine implements the reconciliation core that drives a
// sync session's item exchange. The real SyncML wire codec is out of
// scope (spec.md §1), so instead of encoding/decoding messages the
// engine reconciles a source's local backend directly against a second
// backend standing in for the peer's store — the same added/updated/
// deleted bookkeeping a real engine performs, minus the bytes-on-the-
// wire step in between.
package syncengine

import (
	"context"
	"log/slog"
	"maps"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/tracker"
)

// execTag records how one wrapped per-item operation actually ran,
// reported on its post-signal regardless of outcome (spec.md §4.4:
// "post-signals always fire with an execution tag {Skipped, Finished,
// Exception, NotImplemented}").
type execTag int

const (
	finished execTag = iota
	skipped
	exception
)

func (t execTag) String() string {
	switch t {
	case finished:
		return "finished"
	case skipped:
		return "skipped"
	case exception:
		return "exception"
	default:
		return "unknown"
	}
}

// SourcePair is one source's two sides: the peer's production backend
// and the backend that plays the role of the remote's store, plus the
// change tracker each side needs to compute its delta.
type SourcePair struct {
	Name          string
	Local         backend.Backend
	Remote        backend.Backend
	LocalTracker  *tracker.Tracker
	RemoteTracker *tracker.Tracker
}

// Result is one source's reconciliation outcome.
type Result struct {
	Source   string
	Sent     int
	Received int
}

// Engine reconciles source pairs under a peerconfig.SyncMode.
type Engine struct {
	logger *slog.Logger
}

// New returns a ready-to-use Engine logging to slog.Default().
func New() *Engine { return &Engine{logger: slog.Default()} }

// NewWithLogger returns an Engine that logs each wrapped item operation
// to logger instead of the default.
func NewWithLogger(logger *slog.Logger) *Engine { return &Engine{logger: logger} }

// SyncSource reconciles one source pair according to mode, returning the
// number of items moved in each direction.
func (e *Engine) SyncSource(ctx context.Context, mode peerconfig.SyncMode, pair SourcePair) (Result, error) {
	res := Result{Source: pair.Name}
	if mode == peerconfig.SyncDisabled {
		return res, nil
	}

	localCurrent, err := pair.Local.ListAll(ctx)
	if err != nil {
		return res, apperror.Wrap(apperror.StatusDatastoreFailure, pair.Name, "list_all_local", err)
	}
	remoteCurrent, err := pair.Remote.ListAll(ctx)
	if err != nil {
		return res, apperror.Wrap(apperror.StatusDatastoreFailure, pair.Name, "list_all_remote", err)
	}

	detectMode := tracker.Full
	if mode == peerconfig.SyncSlow ||
		mode == peerconfig.SyncRefreshFromClient ||
		mode == peerconfig.SyncRefreshFromServer {
		detectMode = tracker.Slow
	}

	localChanges := pair.LocalTracker.Detect(detectMode, localCurrent)
	remoteChanges := pair.RemoteTracker.Detect(detectMode, remoteCurrent)

	sendToRemote := mode != peerconfig.SyncOneWayFromServer && mode != peerconfig.SyncRefreshFromServer
	sendToLocal := mode != peerconfig.SyncOneWayFromClient && mode != peerconfig.SyncRefreshFromClient

	if sendToRemote {
		n, err := e.applyChanges(ctx, pair.Name, pair.Local, pair.Remote, pair.RemoteTracker, localChanges)
		if err != nil {
			return res, err
		}
		res.Sent = n
		// The sending side's node now records what was sent, so the next
		// session does not detect the same items as changed again.
		maps.Copy(pair.LocalTracker.Node().Revisions, localChanges.Added)
		maps.Copy(pair.LocalTracker.Node().Revisions, localChanges.Updated)
		for luid := range localChanges.Deleted {
			delete(pair.LocalTracker.Node().Revisions, luid)
		}
	}
	if sendToLocal {
		n, err := e.applyChanges(ctx, pair.Name, pair.Remote, pair.Local, pair.LocalTracker, remoteChanges)
		if err != nil {
			return res, err
		}
		res.Received = n
		maps.Copy(pair.RemoteTracker.Node().Revisions, remoteChanges.Added)
		maps.Copy(pair.RemoteTracker.Node().Revisions, remoteChanges.Updated)
		for luid := range remoteChanges.Deleted {
			delete(pair.RemoteTracker.Node().Revisions, luid)
		}
	}

	if err := pair.LocalTracker.EndSession(ctx); err != nil {
		return res, err
	}
	if err := pair.RemoteTracker.EndSession(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// applyChanges copies changes detected on "from" onto "to", updating
// toTracker with the post-operation luid/revision rule (spec.md §4.2).
// Local and remote are assumed to share one luid namespace, a
// simplification that holds for this loopback stand-in but would not
// hold against a real second device.
//
// Each per-item step is wrapped by a pre-signal and a post-signal
// carrying an execTag, the same pre/post bracketing spec.md §4.4
// describes around every engine callback; here the "callback" is the
// insert/update/delete against the peer backend rather than a dispatch
// through an external adapter.
func (e *Engine) applyChanges(ctx context.Context, source string, from, to backend.Backend, toTracker *tracker.Tracker, changes tracker.Changes) (int, error) {
	moved := 0

	for luid := range changes.Added {
		tag, err := e.applyAdd(ctx, source, "", luid, from, to, toTracker)
		if err != nil {
			return moved, err
		}
		if tag == finished {
			moved++
		}
	}

	for luid := range changes.Updated {
		tag, err := e.applyAdd(ctx, source, luid, luid, from, to, toTracker)
		if err != nil {
			return moved, err
		}
		if tag == finished {
			moved++
		}
	}

	for luid := range changes.Deleted {
		tag, err := e.applyDelete(ctx, source, luid, to, toTracker)
		if err != nil {
			return moved, err
		}
		if tag == finished {
			moved++
		}
	}

	return moved, nil
}

// applyAdd performs one insert (remoteKey == "") or update (remoteKey ==
// readLuid) step, logging its pre- and post-signal.
func (e *Engine) applyAdd(ctx context.Context, source, remoteKey, readLuid string, from, to backend.Backend, toTracker *tracker.Tracker) (execTag, error) {
	op := "insert"
	if remoteKey != "" {
		op = "update"
	}
	if err := ctx.Err(); err != nil {
		e.logPost(source, op, readLuid, skipped)
		return skipped, err
	}
	e.logPre(source, op, readLuid)

	data, err := from.Read(ctx, readLuid)
	if err != nil {
		e.logPost(source, op, readLuid, exception)
		return exception, apperror.Wrap(apperror.StatusDatastoreFailure, source, "read", err)
	}
	result, err := to.Insert(ctx, remoteKey, data)
	if err != nil {
		e.logPost(source, op, readLuid, exception)
		return exception, apperror.Wrap(apperror.StatusDatastoreFailure, source, op, err)
	}
	toTracker.RecordAddOrUpdate(remoteKey, result.LUID, result.Revision)
	e.logPost(source, op, readLuid, finished)
	return finished, nil
}

// applyDelete performs one delete step. A missing remote item (the
// other side never saw this luid) is a skip, not a failure.
func (e *Engine) applyDelete(ctx context.Context, source, luid string, to backend.Backend, toTracker *tracker.Tracker) (execTag, error) {
	if err := ctx.Err(); err != nil {
		e.logPost(source, "delete", luid, skipped)
		return skipped, err
	}
	e.logPre(source, "delete", luid)

	if err := to.Delete(ctx, luid); err != nil {
		e.logPost(source, "delete", luid, skipped)
		return skipped, nil
	}
	toTracker.RecordDelete(luid)
	e.logPost(source, "delete", luid, finished)
	return finished, nil
}

func (e *Engine) logPre(source, op, luid string) {
	if e.logger == nil {
		return
	}
	e.logger.Debug("engine item op starting", "source", source, "op", op, "luid", luid)
}

func (e *Engine) logPost(source, op, luid string, tag execTag) {
	if e.logger == nil {
		return
	}
	level := slog.LevelDebug
	if tag == exception {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "engine item op finished", "source", source, "op", op, "luid", luid, "result", tag.String())
}
