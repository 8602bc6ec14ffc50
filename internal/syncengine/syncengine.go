// Package syncengine implements the state machine of spec.md §4.7: it
// ties the repository log (internal/repo) and the local snapshot store
// (internal/snapshot) together into sync, fast-forward, rollback and
// desync operations, plus append for publishing new scripts. Grounded on
// configfiles/local/db.py's DotConfigFiles.sync/rollback/desync/append,
// restructured as methods on an Engine that owns one *repo.Repository,
// one *snapshot.Store and a ScriptRunner, the way the teacher's
// lib/model types own their db/connection for their lifetime.
package syncengine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/hashid"
	"github.com/mincrmatt12/configsync/internal/logger"
	"github.com/mincrmatt12/configsync/internal/repo"
	"github.com/mincrmatt12/configsync/internal/snapshot"
	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/transport"
	"github.com/mincrmatt12/configsync/internal/urlish"
)

// scriptScratchName is the scratch file a downloaded script body is
// written to before the ScriptRunner runs it (spec.md §6.3).
const scriptScratchName = "script.py"

// SessionOpener dials and authenticates a transport.Session for loc. It is
// the seam between syncengine and the concrete transport/auth
// collaborators, and is swapped for an in-memory fake in tests the way
// lockmgr/repo tests swap in transport.MemSession.
type SessionOpener func(ctx context.Context, loc urlish.Locator) (transport.Session, error)

// ScriptRunner executes a downloaded script with workdir as its current
// directory, mapping a non-zero exit to synerr.ErrScriptFailed. The
// concrete implementation is internal/runner.Run.
type ScriptRunner interface {
	Run(ctx context.Context, workdir, scriptPath string) error
}

// Engine is the sync state machine for one local machine against one
// remote at a time. It is not safe for concurrent use (spec.md §5: the
// local index has a single owner).
type Engine struct {
	homeDir  string
	localDir string
	opener   SessionOpener
	runner   ScriptRunner
	log      *logger.Logger

	remote   urlish.Locator
	remoteID string
	repo     *repo.Repository
	store    *snapshot.Store
}

// Init creates a fresh, empty repository at loc without touching any
// local state, implementing the `init` command of spec.md §6.4.
func Init(ctx context.Context, opener SessionOpener, loc urlish.Locator) error {
	session, err := opener(ctx, loc)
	if err != nil {
		return err
	}
	defer session.Close()

	rp, err := repo.Open(session, loc.Path)
	if err != nil {
		return err
	}
	defer rp.Close()

	return rp.New()
}

// Open loads engine state for an existing local index (following the
// `current` pointer) or, if none exists yet, for remoteOverride. It
// mirrors configfiles/local/db.py's DotConfigFiles.__init__.
func Open(ctx context.Context, homeDir, localDir string, opener SessionOpener, runner ScriptRunner, log *logger.Logger, remoteOverride *urlish.Locator) (*Engine, error) {
	if log == nil {
		log = logger.DefaultLogger
	}
	e := &Engine{homeDir: homeDir, localDir: localDir, opener: opener, runner: runner, log: log}

	cur, err := snapshot.CurrentRemoteID(localDir)
	if err != nil {
		return nil, err
	}

	var remoteID string
	var loc urlish.Locator
	switch {
	case cur != "":
		remoteID = cur
		if remoteOverride != nil {
			loc = *remoteOverride
		}
	case remoteOverride != nil:
		loc = *remoteOverride
		remoteID = hashid.RemoteID(loc.Host, loc.Path)
	default:
		return nil, errors.Wrap(synerr.ErrNotInitialized, "syncengine: no local state and no remote given")
	}

	if err := e.loadRemote(ctx, remoteID, loc); err != nil {
		return nil, err
	}
	return e, nil
}

// loadRemote opens (or creates) the local index for remoteID and, using
// loc, dials the remote and attaches a fresh *repo.Repository.
func (e *Engine) loadRemote(ctx context.Context, remoteID string, loc urlish.Locator) error {
	store, err := snapshot.OpenLocal(e.homeDir, e.localDir, remoteID, loc)
	if err != nil {
		return err
	}

	session, err := e.opener(ctx, store.Remote())
	if err != nil {
		return err
	}

	rp, err := repo.Open(session, store.Remote().Path)
	if err != nil {
		session.Close()
		return err
	}

	e.store = store
	e.repo = rp
	e.remote = store.Remote()
	e.remoteID = remoteID
	return nil
}

// Close releases the underlying repository/transport. Idempotent.
func (e *Engine) Close() error {
	if e.repo == nil {
		return nil
	}
	return e.repo.Close()
}

// At returns the ScriptId the engine's local files currently reflect
// ("" means desynced/original).
func (e *Engine) At() string { return e.store.At() }

// RemoteID returns the RemoteId the engine is currently attached to.
func (e *Engine) RemoteID() string { return e.remoteID }

// Revision returns the last remote revision counter this local index
// has observed, or -1 if it has never been set (fresh, rolled back, or
// desynced).
func (e *Engine) Revision() int { return e.store.Revision() }

// IsTracked reports whether filename already has a tracking entry,
// distinguishing the `update` command's "patch an existing file" case
// from "write a brand new file" (spec.md §6.4).
func (e *Engine) IsTracked(filename string) bool {
	_, ok := e.store.Files()[filename]
	return ok
}

// SyncOptions controls one call to Sync (spec.md §4.7.1).
type SyncOptions struct {
	// FastForward enables the fast-forward check of step 4. Ignored
	// (forced false) when RemoteOverride triggers a remote switch.
	FastForward bool
	// RemoteOverride, if non-nil, requests switching to a different
	// remote before syncing. Fails with ErrDesyncFirst if the engine is
	// not currently desynced.
	RemoteOverride *urlish.Locator
	// MaxIterations bounds the step loop of step 5; -1 means "until
	// caught up".
	MaxIterations int
}

// Sync advances local state along the remote chain, per spec.md §4.7.1.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) error {
	fastforward := opts.FastForward

	if opts.RemoteOverride != nil {
		newID := hashid.RemoteID(opts.RemoteOverride.Host, opts.RemoteOverride.Path)
		if newID != e.remoteID {
			if e.store.At() != "" {
				return errors.Wrap(synerr.ErrDesyncFirst, "syncengine: sync: switch remote")
			}
			if err := e.Close(); err != nil {
				return err
			}
			if err := e.loadRemote(ctx, newID, *opts.RemoteOverride); err != nil {
				return err
			}
			fastforward = false
		}
	}

	if err := e.repo.Update(); err != nil {
		return err
	}

	// up_to_date(): local.revision >= remote.revision. revision == -1
	// (set by rollback/desync) must never read as caught up (spec.md §9).
	if e.store.Revision() >= e.repo.Revision() {
		return nil
	}

	if e.repo.End() == "" {
		e.log.Infof("nothing in repo, nothing to do")
		return e.finishPointerOnly(ctx)
	}

	if fastforward {
		done, err := e.tryFastForward()
		if err != nil {
			return err
		}
		if done {
			// spec.md §4.7.1 step 4 returns immediately on a successful
			// fast-forward: it does not rewrite the current pointer or
			// bump the cached remote revision the way step 6 does.
			return nil
		}
	}

	if err := e.stepLoop(ctx, opts.MaxIterations); err != nil {
		return err
	}
	return e.finishSync(ctx)
}

// tryFastForward implements step 4: it succeeds only if every file the
// tail script declares already has a chain entry for the tail ScriptId
// on this machine — i.e. this machine has passed through this exact
// state before.
func (e *Engine) tryFastForward() (bool, error) {
	tail := e.repo.End()
	entry, err := e.repo.GetScript(tail)
	if err != nil {
		return false, err
	}

	for _, f := range entry.Files {
		fe, ok := e.store.Files()[f]
		if !ok {
			return false, nil
		}
		if _, ok := fe.Chain[tail]; !ok {
			return false, nil
		}
	}

	e.log.Infof("fastforwarding to %s", tail)
	for _, f := range entry.Files {
		v := tail
		if err := e.store.RestoreVersion(f, &v); err != nil {
			return false, err
		}
	}
	e.store.SetAt(tail)
	if err := e.store.Persist(); err != nil {
		return false, err
	}
	return true, nil
}

// nextScriptID determines the next script to apply: the chain head if
// desynced, otherwise the successor of the current position.
func (e *Engine) nextScriptID() (string, error) {
	if e.store.At() == "" {
		return e.repo.Start(), nil
	}
	entry, err := e.repo.GetScript(e.store.At())
	if err != nil {
		return "", err
	}
	return entry.Next, nil
}

// stepLoop is spec.md §4.7.1 step 5: it applies scripts one at a time,
// recording originals before execution and post-states after, until the
// chain tail is reached or maxIterations is exhausted. -1 means
// unbounded (run until caught up).
func (e *Engine) stepLoop(ctx context.Context, maxIterations int) error {
	for iter := 0; maxIterations < 0 || iter < maxIterations; iter++ {
		nextID, err := e.nextScriptID()
		if err != nil {
			return err
		}
		so, err := e.repo.GetScript(nextID)
		if err != nil {
			return err
		}

		for _, f := range so.Files {
			fe, exists := e.store.Files()[f]
			if !exists || fe.NewIn == nextID {
				if err := e.store.RecordOriginal(f, nextID); err != nil {
					return err
				}
			}
		}

		body, err := e.repo.DownloadScript(nextID)
		if err != nil {
			return err
		}

		scriptPath := filepath.Join(e.localDir, scriptScratchName)
		if err := os.WriteFile(scriptPath, body, 0755); err != nil {
			return errors.Wrap(synerr.ErrRemoteIO, "syncengine: write script scratch file: "+err.Error())
		}

		relPath, err := filepath.Rel(e.homeDir, scriptPath)
		if err != nil {
			return errors.Wrap(err, "syncengine: relative script path")
		}

		e.log.Infof("running %s", so.Name)
		runErr := e.runner.Run(ctx, e.homeDir, relPath)

		// at is advanced before checking the run result so rollback sees
		// the position the failing script left us in (spec.md §4.7.1).
		e.store.SetAt(nextID)
		if runErr != nil {
			if err := e.store.Persist(); err != nil {
				return err
			}
			e.log.Warnf("one of the scripts failed.")
			if err := e.Rollback(ctx, 1); err != nil {
				return err
			}
			return errors.Wrap(synerr.ErrScriptFailed, so.Name)
		}

		for _, f := range so.Files {
			if err := e.store.RecordFile(f); err != nil {
				return err
			}
		}
		if err := e.store.Persist(); err != nil {
			return err
		}

		if nextID == e.repo.End() {
			break
		}
	}
	return nil
}

// finishSync is step 6: rewrite the current pointer only now, at the
// successful end of sync (spec.md §9), and cache the remote revision.
func (e *Engine) finishSync(ctx context.Context) error {
	if err := snapshot.SetCurrentRemoteID(e.localDir, e.remoteID); err != nil {
		return err
	}
	e.store.SetRevision(e.repo.Revision())
	if err := e.store.Persist(); err != nil {
		return err
	}
	e.log.Infof("synced to %s", e.remote.String())
	return nil
}

// finishPointerOnly handles the empty-remote branch: spec.md:263 scopes
// a sync against an empty remote to updating the current pointer alone,
// matching configfiles/local/db.py's sync() on an empty repo, which
// calls self.write() on the index unchanged and never touches
// self.index["revision"]. Unlike finishSync, the cached remote revision
// is left as-is, so a script later appended to this same empty remote is
// still picked up on the next sync.
func (e *Engine) finishPointerOnly(ctx context.Context) error {
	if err := snapshot.SetCurrentRemoteID(e.localDir, e.remoteID); err != nil {
		return err
	}
	if err := e.store.Persist(); err != nil {
		return err
	}
	e.log.Infof("synced to %s", e.remote.String())
	return nil
}

// Rollback walks count links backward via prev, restoring every tracked
// file to its snapshot at the resulting position (spec.md §4.7.2). It
// falls through to Desync if the walk reaches the chain head.
func (e *Engine) Rollback(ctx context.Context, count int) error {
	if err := e.repo.Update(); err != nil {
		return err
	}

	target := e.store.At()
	for i := 0; i < count; i++ {
		if target == "" {
			return e.Desync(ctx)
		}
		entry, err := e.repo.GetScript(target)
		if err != nil {
			return err
		}
		target = entry.Prev
	}
	if target == "" {
		return e.Desync(ctx)
	}

	for f := range e.store.Files() {
		v := target
		if err := e.store.RestoreVersion(f, &v); err != nil {
			return err
		}
	}

	e.store.SetAt(target)
	e.store.SetRevision(-1)
	if err := e.store.Persist(); err != nil {
		return err
	}
	e.log.Infof("rolled back to %s", target)
	return nil
}

// Desync restores every tracked file to its pre-sync original and clears
// the local position (spec.md §4.7.3).
func (e *Engine) Desync(ctx context.Context) error {
	for f := range e.store.Files() {
		if err := e.store.RestoreVersion(f, nil); err != nil {
			return err
		}
	}
	e.store.SetAt("")
	e.store.SetRevision(-1)
	if err := e.store.Persist(); err != nil {
		return err
	}
	e.log.Infof("desynced")
	return nil
}

// Append publishes a new script to the remote chain and, if runNow,
// immediately syncs to it (spec.md §4.7.4).
func (e *Engine) Append(ctx context.Context, scriptText []byte, name string, files []string, runNow bool) error {
	entry := repo.ScriptEntry{Name: name, Files: files}

	if err := e.repo.Update(); err != nil {
		return err
	}
	if _, err := e.repo.AppendScript(entry, scriptText); err != nil {
		return err
	}

	if runNow {
		return e.Sync(ctx, SyncOptions{FastForward: true, MaxIterations: -1})
	}
	return nil
}
