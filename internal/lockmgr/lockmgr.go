// Package lockmgr implements the directory-presence read/write lock
// protocol of spec.md §4.4, grounded on configfiles/repo/locks.py's
// RepoReadLock/RepoWriteLock context managers. Acquisitions are scoped:
// callers get a Lock whose Release must run on every exit path, including
// failure of the guarded operation (spec.md §5).
package lockmgr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/transport"
)

const locksDir = "locks"
const writeLockName = "write_lock"
const readLockPrefix = "read_lock_"

// maxReaderAttempts bounds the retries when two readers race for the same
// index n (spec.md §4.4: "loser gets Busy and retries selection up to a
// small bound").
const maxReaderAttempts = 8

// Lock represents a held read or write lock. Release is not idempotent:
// calling it twice will surface the second rmdir's error.
type Lock struct {
	session transport.Session
	path    string
}

// Release removes the lock directory, ending the acquisition.
func (l *Lock) Release() error {
	if err := l.session.Rmdir(l.path); err != nil {
		return errors.Wrapf(synerr.ErrRemoteIO, "lockmgr: release %s: %s", l.path, err)
	}
	return nil
}

func listLocks(session transport.Session) ([]string, error) {
	entries, err := session.ReadDir(locksDir)
	if err != nil {
		return nil, errors.Wrapf(synerr.ErrRemoteIO, "lockmgr: list locks: %s", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// AcquireWrite takes the singleton write lock. It fails with ErrBusy if
// any entry at all is present under locks/ — readers and writers are
// mutually exclusive.
func AcquireWrite(session transport.Session) (*Lock, error) {
	names, err := listLocks(session)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		return nil, errors.Wrap(synerr.ErrBusy, "lockmgr: repo is locked")
	}

	p := locksDir + "/" + writeLockName
	if err := session.Mkdir(p); err != nil {
		// A mkdir race with another writer: translate into Busy rather
		// than surfacing the raw remote error (spec.md §4.4).
		return nil, errors.Wrap(synerr.ErrBusy, "lockmgr: lost race for write lock")
	}
	return &Lock{session: session, path: p}, nil
}

// AcquireRead takes the next free read_lock_n directory. It fails with
// ErrBusy if a write lock is present, or if every retry loses the mkdir
// race to another reader.
func AcquireRead(session transport.Session) (*Lock, error) {
	for attempt := 0; attempt < maxReaderAttempts; attempt++ {
		names, err := listLocks(session)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n == writeLockName {
				return nil, errors.Wrap(synerr.ErrBusy, "lockmgr: repo is write locked")
			}
		}

		taken := make(map[string]bool, len(names))
		for _, n := range names {
			taken[n] = true
		}

		n := 0
		for taken[fmt.Sprintf("%s%d", readLockPrefix, n)] {
			n++
		}

		p := fmt.Sprintf("%s/%s%d", locksDir, readLockPrefix, n)
		if err := session.Mkdir(p); err != nil {
			// Lost the mkdir race for this slot (another reader picked
			// the same n); recompute and retry.
			continue
		}
		return &Lock{session: session, path: p}, nil
	}
	return nil, errors.Wrap(synerr.ErrBusy, "lockmgr: exhausted retries for a read lock slot")
}

// WithRead acquires a read lock, runs fn, and releases the lock before
// returning — on every path, including fn's own error.
func WithRead(session transport.Session, fn func() error) error {
	lock, err := AcquireRead(session)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// WithWrite acquires the write lock, runs fn, and releases the lock before
// returning — on every path, including fn's own error.
func WithWrite(session transport.Session, fn func() error) error {
	lock, err := AcquireWrite(session)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
