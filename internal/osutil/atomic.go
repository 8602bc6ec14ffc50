// Package osutil backs the snapshot package's crash-safe writes
// (local index, current pointer, restored live files) and the CLI's
// home-directory resolution. AtomicWriter is adapted from the
// teacher's internal/osutil.AtomicWriter: same temp-then-rename
// contract, but Close now delegates the actual rename to this
// package's own Rename helper instead of duplicating its
// Windows-destination-removal dance inline.
package osutil

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
)

var (
	ErrClosed  = errors.New("write to closed writer")
	TempPrefix = ".configsync.tmp."
)

// An AtomicWriter is an *os.File that writes to a temporary file in the
// same directory as the final path. On successful Close the file is
// renamed to its final path. Any error on Write or during Close is
// accumulated and returned on Close, so a lazy caller can ignore errors
// until Close — used throughout snapshot.Store so a crash mid-write
// never leaves a torn index, pointer, or restored file on disk.
type AtomicWriter struct {
	path string
	next *os.File
	err  error
}

// CreateAtomic is like os.Create with a FileMode, except a temporary
// file name is used instead of the given name.
func CreateAtomic(path string, mode os.FileMode) (*AtomicWriter, error) {
	fd, err := ioutil.TempFile(filepath.Dir(path), TempPrefix)
	if err != nil {
		return nil, err
	}

	if err := os.Chmod(fd.Name(), mode); err != nil {
		fd.Close()
		os.Remove(fd.Name())
		return nil, err
	}

	w := &AtomicWriter{
		path: path,
		next: fd,
	}

	return w, nil
}

// Write is like io.Writer, but is a no-op on an already failed AtomicWriter.
func (w *AtomicWriter) Write(bs []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.next.Write(bs)
	if err != nil {
		w.err = err
		w.next.Close()
	}
	return n, err
}

// Close closes the temporary file and renames it to the final path. It
// is invalid to call Write() or Close() after Close().
func (w *AtomicWriter) Close() error {
	if w.err != nil {
		return w.err
	}

	// Try to not leave temp file around, but ignore error.
	defer os.Remove(w.next.Name())

	if err := w.next.Close(); err != nil {
		w.err = err
		return err
	}

	if err := Rename(w.next.Name(), w.path); err != nil {
		w.err = err
		return err
	}

	// Set w.err to return appropriately for any future operations.
	w.err = ErrClosed

	return nil
}
