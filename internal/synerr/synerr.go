// Package synerr holds the sentinel error kinds spec.md §7 defines. Every
// layer of the system returns one of these, wrapped with context via
// github.com/pkg/errors, so a caller can recover the kind with
// errors.Cause (or errors.Is, since pkg/errors' wrapped errors satisfy
// Unwrap via As/Is in recent versions is not guaranteed — callers in this
// module use errors.Cause, matching how cmd/syncthing/cli unwraps its own
// errors.Wrap chains).
package synerr

import "github.com/pkg/errors"

var (
	// ErrBusy is returned on lock contention (spec.md §4.4).
	ErrBusy = errors.New("busy")
	// ErrAuthFailed is returned when SSH authentication is exhausted.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrRemoteIO covers remote filesystem failures other than locking.
	ErrRemoteIO = errors.New("remote io error")
	// ErrNotInitialized means the remote has no index.json, or the engine
	// found no local state and was given no remote.
	ErrNotInitialized = errors.New("not initialized")
	// ErrAlreadyInitialized means Repository.New found an existing index.json.
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrDesyncFirst means a remote switch was attempted while synced.
	ErrDesyncFirst = errors.New("desync the repo first")
	// ErrScriptFailed means a mutation script exited non-zero.
	ErrScriptFailed = errors.New("one of the scripts failed")
	// ErrMissingFile means a requested filename is not in tracking, or a
	// requested script id is not in the remote index.
	ErrMissingFile = errors.New("file not tracked")
	// ErrBadUrlish means a locator had no host component.
	ErrBadUrlish = errors.New("bad urlish: empty host")
	// ErrIndexCorrupt means a local or remote index failed its invariants.
	ErrIndexCorrupt = errors.New("index corrupt")
)
