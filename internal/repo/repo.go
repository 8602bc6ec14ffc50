// Package repo implements the remote repository log: a doubly linked
// chain of scripts recorded in a single index.json, guarded by the
// lockmgr directory-presence protocol. It is grounded on
// configfiles/repo/obj.py (the Repo/Script model) and
// configfiles/repo/locks.py (the read/write scoping each operation
// takes), expressed the way the teacher's lib/db and lib/connections
// types own a single connection/session for their lifetime.
package repo

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/hashid"
	"github.com/mincrmatt12/configsync/internal/lockmgr"
	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/transport"
)

const indexFile = "index.json"
const scriptsDir = "scripts"
const indexVersion = 1

// ScriptEntry is one node in the remote chain (spec.md §3).
type ScriptEntry struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
	Prev  string   `json:"prev"`
	Next  string   `json:"next"`
}

// Index is the on-disk schema of index.json.
type Index struct {
	Version  int                    `json:"version"`
	Revision int                    `json:"revision"`
	Start    string                 `json:"start"`
	End      string                 `json:"end"`
	Scripts  map[string]ScriptEntry `json:"scripts"`
}

func emptyIndex() Index {
	return Index{Version: indexVersion, Revision: 0, Start: "", End: "", Scripts: map[string]ScriptEntry{}}
}

// Repository is a session-owning handle onto one remote repository. It
// caches the index in memory after Update; callers must call Update
// before relying on GetScript/Revision/Iterate.
type Repository struct {
	session transport.Session
	path    string
	index   Index
	loaded  bool
}

// Open connects path as the working directory of session, creating the
// directory first if it is absent. It does not load the index — call
// Update for that. Open is idempotent; New is responsible for creating
// the repository's own layout inside path.
func Open(session transport.Session, path string) (*Repository, error) {
	if _, err := session.Stat(path); err != nil {
		if err := session.Mkdir(path); err != nil {
			return nil, errors.Wrapf(synerr.ErrRemoteIO, "repo: create %s: %s", path, err)
		}
	}
	if err := session.Chdir(path); err != nil {
		return nil, errors.Wrapf(synerr.ErrRemoteIO, "repo: open %s: %s", path, err)
	}
	return &Repository{session: session, path: path}, nil
}

// Close releases the underlying transport. Idempotent.
func (r *Repository) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	if err != nil {
		return errors.Wrap(synerr.ErrRemoteIO, err.Error())
	}
	return nil
}

// New initializes a fresh, empty repository at the session's current
// path. It fails with ErrAlreadyInitialized if index.json already
// exists. No locking is required: the spec's precondition is that the
// caller owns the namespace before calling New.
func (r *Repository) New() error {
	if _, err := r.session.Stat(indexFile); err == nil {
		return errors.Wrap(synerr.ErrAlreadyInitialized, "repo: new")
	}

	if err := r.session.Mkdir("locks"); err != nil {
		return errors.Wrap(synerr.ErrRemoteIO, "repo: new: mkdir locks")
	}
	if err := r.session.Mkdir(scriptsDir); err != nil {
		return errors.Wrap(synerr.ErrRemoteIO, "repo: new: mkdir scripts")
	}

	r.index = emptyIndex()
	if err := r.writeIndex(); err != nil {
		return err
	}
	r.loaded = true
	return nil
}

// Update loads index.json under a read-lock. All subsequent reads serve
// from the in-memory cache until the next Update.
func (r *Repository) Update() error {
	return lockmgr.WithRead(r.session, func() error {
		idx, err := r.readIndex()
		if err != nil {
			return err
		}
		r.index = idx
		r.loaded = true
		return nil
	})
}

func (r *Repository) readIndex() (Index, error) {
	f, err := r.session.OpenRead(indexFile)
	if err != nil {
		return Index{}, errors.Wrap(synerr.ErrNotInitialized, "repo: read index.json")
	}
	defer f.Close()

	var idx Index
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return Index{}, errors.Wrap(synerr.ErrIndexCorrupt, err.Error())
	}
	if err := validate(idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

func (r *Repository) writeIndex() error {
	w, err := r.session.OpenWrite(indexFile)
	if err != nil {
		return errors.Wrap(synerr.ErrRemoteIO, "repo: write index.json")
	}
	enc := json.NewEncoder(w)
	if encErr := enc.Encode(r.index); encErr != nil {
		w.Close()
		return errors.Wrap(synerr.ErrRemoteIO, encErr.Error())
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(synerr.ErrRemoteIO, err.Error())
	}
	return nil
}

// validate checks the chain invariants from spec.md §3.
func validate(idx Index) error {
	if idx.Start == "" && idx.End == "" && len(idx.Scripts) == 0 {
		return nil
	}
	if idx.Start == "" || idx.End == "" {
		return errors.Wrap(synerr.ErrIndexCorrupt, "repo: start/end inconsistent with empty chain")
	}
	if s, ok := idx.Scripts[idx.Start]; !ok || s.Prev != "" {
		return errors.Wrap(synerr.ErrIndexCorrupt, "repo: start has nonempty prev")
	}
	if e, ok := idx.Scripts[idx.End]; !ok || e.Next != "" {
		return errors.Wrap(synerr.ErrIndexCorrupt, "repo: end has nonempty next")
	}

	seen := make(map[string]bool, len(idx.Scripts))
	id := idx.Start
	for i := 0; i < len(idx.Scripts); i++ {
		if seen[id] {
			return errors.Wrap(synerr.ErrIndexCorrupt, "repo: cycle in chain")
		}
		seen[id] = true
		entry, ok := idx.Scripts[id]
		if !ok {
			return errors.Wrap(synerr.ErrIndexCorrupt, "repo: dangling next pointer")
		}
		if id == idx.End {
			if i != len(idx.Scripts)-1 {
				return errors.Wrap(synerr.ErrIndexCorrupt, "repo: end reached early")
			}
			break
		}
		id = entry.Next
	}
	if len(seen) != len(idx.Scripts) {
		return errors.Wrap(synerr.ErrIndexCorrupt, "repo: chain does not cover all scripts")
	}
	return nil
}

// GetScript returns the cached entry for id, defaulting to the chain
// head when id is "".
func (r *Repository) GetScript(id string) (ScriptEntry, error) {
	if id == "" {
		id = r.index.Start
	}
	entry, ok := r.index.Scripts[id]
	if !ok {
		return ScriptEntry{}, errors.Wrap(synerr.ErrMissingFile, "repo: unknown script id")
	}
	return entry, nil
}

// DownloadScript reads a script body under a read-lock. id defaults to
// the chain head.
func (r *Repository) DownloadScript(id string) ([]byte, error) {
	if id == "" {
		id = r.index.Start
	}
	var body []byte
	err := lockmgr.WithRead(r.session, func() error {
		f, err := r.session.OpenRead(fmt.Sprintf("%s/%s.py", scriptsDir, id))
		if err != nil {
			return errors.Wrap(synerr.ErrRemoteIO, "repo: download script")
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return errors.Wrap(synerr.ErrRemoteIO, err.Error())
		}
		body = b
		return nil
	})
	return body, err
}

// Revision returns the cached remote revision counter.
func (r *Repository) Revision() int {
	return r.index.Revision
}

// Start returns the ScriptId at the head of the chain, or "" if empty.
func (r *Repository) Start() string { return r.index.Start }

// End returns the ScriptId at the tail of the chain, or "" if empty.
func (r *Repository) End() string { return r.index.End }

// AppendScript computes entry's ScriptId from contents and links it to
// the tail of the chain, under the write-lock. The index is persisted
// before the script body, per spec.md §4.5's write-order requirement;
// both writes happen while the write-lock is held, so no reader can see
// the new tail in the index before its script body exists.
func (r *Repository) AppendScript(entry ScriptEntry, contents []byte) (string, error) {
	id := hashid.ScriptID(contents)

	err := lockmgr.WithWrite(r.session, func() error {
		idx, err := r.readIndex()
		if err != nil {
			return err
		}
		if _, exists := idx.Scripts[id]; exists {
			// spec.md §4.5: appending identical contents twice would
			// create a cycle; reject it rather than corrupt the chain.
			return errors.Wrap(synerr.ErrIndexCorrupt, "repo: duplicate script contents would create a cycle")
		}

		entry.Prev = idx.End
		entry.Next = ""
		idx.Revision++
		if idx.End != "" {
			prevEnd := idx.Scripts[idx.End]
			prevEnd.Next = id
			idx.Scripts[idx.End] = prevEnd
		}
		idx.End = id
		if idx.Start == "" {
			idx.Start = id
		}
		idx.Scripts[id] = entry

		r.index = idx
		if err := r.writeIndex(); err != nil {
			return err
		}

		w, err := r.session.OpenWrite(fmt.Sprintf("%s/%s.py", scriptsDir, id))
		if err != nil {
			return errors.Wrap(synerr.ErrRemoteIO, "repo: write script body")
		}
		if _, err := w.Write(contents); err != nil {
			w.Close()
			return errors.Wrap(synerr.ErrRemoteIO, err.Error())
		}
		if err := w.Close(); err != nil {
			return errors.Wrap(synerr.ErrRemoteIO, err.Error())
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Iterate calls fn for every ScriptId in chain order starting at from
// (or the chain head, if from == ""), stopping early if fn returns
// false. Traversal is bounded by the number of known scripts to turn a
// corrupt cycle into ErrIndexCorrupt rather than an infinite loop.
func (r *Repository) Iterate(from string, fn func(id string, entry ScriptEntry) bool) error {
	id := from
	if id == "" {
		id = r.index.Start
	}
	for i := 0; id != ""; i++ {
		if i > len(r.index.Scripts) {
			return errors.Wrap(synerr.ErrIndexCorrupt, "repo: iterate: cycle detected")
		}
		entry, ok := r.index.Scripts[id]
		if !ok {
			return errors.Wrap(synerr.ErrIndexCorrupt, "repo: iterate: dangling id")
		}
		if !fn(id, entry) {
			return nil
		}
		id = entry.Next
	}
	return nil
}
