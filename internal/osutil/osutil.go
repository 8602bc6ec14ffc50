// Package osutil implements the filesystem helpers the sync engine
// needs beyond plain os calls: atomic commit-by-rename (see atomic.go),
// home-directory resolution for the CLI's default local state
// directory, and permission-juggling around directories that an
// arbitrary user script may have left read-only.
package osutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var ErrNoHome = errors.New("no home directory found - set $HOME (or the platform equivalent)")

// Try to keep this entire operation atomic-like. We shouldn't be doing this
// often enough that there is any contention on this lock.
var renameLock sync.Mutex

// Rename renames a file, while trying hard to succeed on various
// systems by temporarily tweaking directory permissions and removing
// the destination file when necessary. Will make sure to delete the
// from file if the operation fails, so use only for situations like
// committing a temp file to its final location. AtomicWriter.Close
// uses this for every index, pointer, and restored-file write snapshot
// makes.
func Rename(from, to string) error {
	renameLock.Lock()
	defer renameLock.Unlock()

	// Make sure the destination directory is writeable
	toDir := filepath.Dir(to)
	if info, err := os.Stat(toDir); err == nil {
		os.Chmod(toDir, 0777)
		defer os.Chmod(toDir, info.Mode())
	}

	// On Windows, make sure the destination file is writeable (or we can't delete it)
	if runtime.GOOS == "windows" {
		os.Chmod(to, 0666)
		err := os.Remove(to)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	// Don't leave a dangling temp file in case of rename error
	defer os.Remove(from)
	return os.Rename(from, to)
}

// InWritableDir calls fn(path), while making sure that the directory
// containing path is writable for the duration of the call. A tracked
// file's own script history may have chmod'd its directory read-only
// on a prior run; snapshot.RestoreVersion relies on this when desync or
// rollback needs to delete a file that was introduced partway through
// the chain.
func InWritableDir(fn func(string) error, path string) (err error) {
	dir := filepath.Dir(path)
	if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() && info.Mode()&0200 == 0 {
		// A non-writeable directory (for this user; we assume that's the
		// relevant part). Temporarily change the mode so we can delete the
		// file or directory inside it.
		if chmodErr := os.Chmod(dir, 0755); chmodErr == nil {
			defer func() {
				if restoreErr := os.Chmod(dir, info.Mode()); restoreErr != nil && err == nil {
					err = restoreErr
				}
			}()
		}
	}

	err = fn(path)
	return err
}

func ExpandTilde(path string) (string, error) {
	if path == "~" {
		return getHomeDir()
	}

	path = filepath.FromSlash(path)
	if !strings.HasPrefix(path, fmt.Sprintf("~%c", os.PathSeparator)) {
		return path, nil
	}

	home, err := getHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

func getHomeDir() (string, error) {
	var home string

	switch runtime.GOOS {
	case "windows":
		home = filepath.Join(os.Getenv("HomeDrive"), os.Getenv("HomePath"))
		if home == "" {
			home = os.Getenv("UserProfile")
		}
	default:
		home = os.Getenv("HOME")
	}

	if home == "" {
		return "", ErrNoHome
	}

	return home, nil
}
