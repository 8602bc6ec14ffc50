package lockmgr_test

import (
	"testing"

	"github.com/mincrmatt12/configsync/internal/lockmgr"
	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/transport"
)

func newRepoSession(t *testing.T) *transport.MemSession {
	t.Helper()
	m := transport.NewMemSession()
	if err := m.Mkdir("/repo"); err != nil {
		t.Fatal(err)
	}
	m.Chdir("/repo")
	if err := m.Mkdir("locks"); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestWriteLockExcludesReaders(t *testing.T) {
	m := newRepoSession(t)

	wl, err := lockmgr.AcquireWrite(m)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := lockmgr.AcquireRead(m); errCause(err) != synerr.ErrBusy {
		t.Errorf("expected ErrBusy while write-locked, got %v", err)
	}

	if err := wl.Release(); err != nil {
		t.Fatal(err)
	}

	rl, err := lockmgr.AcquireRead(m)
	if err != nil {
		t.Fatalf("read lock should succeed once writer released: %v", err)
	}
	rl.Release()
}

func TestWriteLockExcludesWriters(t *testing.T) {
	m := newRepoSession(t)

	wl, err := lockmgr.AcquireWrite(m)
	if err != nil {
		t.Fatal(err)
	}
	defer wl.Release()

	if _, err := lockmgr.AcquireWrite(m); errCause(err) != synerr.ErrBusy {
		t.Errorf("expected ErrBusy for second writer, got %v", err)
	}
}

func TestMultipleReadersGetDistinctSlots(t *testing.T) {
	m := newRepoSession(t)

	r1, err := lockmgr.AcquireRead(m)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := lockmgr.AcquireRead(m)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Release() != nil || r2.Release() != nil {
		t.Fatal("release failed")
	}

	names, err := m.ListNames("locks")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("expected locks/ empty after both released, got %v", names)
	}
}

func TestWithWriteReleasesOnError(t *testing.T) {
	m := newRepoSession(t)

	boom := synerr.ErrScriptFailed
	err := lockmgr.WithWrite(m, func() error { return boom })
	if errCause(err) != boom && err != boom {
		t.Errorf("expected guarded error to propagate, got %v", err)
	}

	// lock must have been released even though fn failed
	wl, err := lockmgr.AcquireWrite(m)
	if err != nil {
		t.Fatalf("write lock should be free after WithWrite returns: %v", err)
	}
	wl.Release()
}

func errCause(err error) error {
	type causer interface{ Cause() error }
	for err != nil {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		err = c.Cause()
	}
	return err
}
