package transport

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"time"
)

var errNotEmpty = errors.New("transport: directory not empty")

// MemSession is an in-memory Session fake used by repo/lockmgr/syncengine
// tests in place of a real SSH/SFTP server, the same role a mocked
// model/config plays in the teacher's cmd/syncthing tests.
type MemSession struct {
	cwd   string
	dirs  map[string]bool
	files map[string][]byte
}

// NewMemSession returns an empty in-memory remote filesystem rooted at "/".
func NewMemSession() *MemSession {
	return &MemSession{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
	}
}

func (m *MemSession) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Clean(path.Join(m.cwd, p))
}

func (m *MemSession) Chdir(p string) error {
	m.cwd = m.abs(p)
	if m.cwd == "" {
		m.cwd = "/"
	}
	return nil
}

type memFileInfo struct {
	name  string
	isDir bool
	size  int64
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0644 }
func (fi memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi memFileInfo) IsDir() bool        { return fi.isDir }
func (fi memFileInfo) Sys() interface{}   { return nil }

func (m *MemSession) Stat(p string) (os.FileInfo, error) {
	ap := m.abs(p)
	if m.dirs[ap] {
		return memFileInfo{name: path.Base(ap), isDir: true}, nil
	}
	if b, ok := m.files[ap]; ok {
		return memFileInfo{name: path.Base(ap), size: int64(len(b))}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MemSession) Mkdir(p string) error {
	ap := m.abs(p)
	if m.dirs[ap] {
		return os.ErrExist
	}
	parent := path.Dir(ap)
	if !m.dirs[parent] {
		return os.ErrNotExist
	}
	m.dirs[ap] = true
	return nil
}

func (m *MemSession) Rmdir(p string) error {
	ap := m.abs(p)
	if !m.dirs[ap] {
		return os.ErrNotExist
	}
	for d := range m.dirs {
		if d != ap && path.Dir(d) == ap {
			return errNotEmpty
		}
	}
	for f := range m.files {
		if path.Dir(f) == ap {
			return errNotEmpty
		}
	}
	delete(m.dirs, ap)
	return nil
}

func (m *MemSession) ReadDir(p string) ([]os.FileInfo, error) {
	ap := m.abs(p)
	if !m.dirs[ap] {
		return nil, os.ErrNotExist
	}
	var entries []os.FileInfo
	for d := range m.dirs {
		if d != ap && path.Dir(d) == ap {
			entries = append(entries, memFileInfo{name: path.Base(d), isDir: true})
		}
	}
	for f, b := range m.files {
		if path.Dir(f) == ap {
			entries = append(entries, memFileInfo{name: path.Base(f), size: int64(len(b))})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MemSession) OpenRead(p string) (io.ReadCloser, error) {
	ap := m.abs(p)
	b, ok := m.files[ap]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type memWriteCloser struct {
	buf *bytes.Buffer
	m   *MemSession
	key string
}

func (w *memWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriteCloser) Close() error {
	w.m.files[w.key] = w.buf.Bytes()
	return nil
}

func (m *MemSession) OpenWrite(p string) (io.WriteCloser, error) {
	ap := m.abs(p)
	parent := path.Dir(ap)
	if !m.dirs[parent] {
		return nil, os.ErrNotExist
	}
	return &memWriteCloser{buf: &bytes.Buffer{}, m: m, key: ap}, nil
}

func (m *MemSession) Close() error { return nil }

// ListNames is a test helper returning the base names of entries in p,
// mirroring what a real sftp.Client.ReadDir caller extracts.
func (m *MemSession) ListNames(p string) ([]string, error) {
	ents, err := m.ReadDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ents))
	for i, e := range ents {
		names[i] = e.Name()
	}
	return names, nil
}
