// Package transport implements the remote-filesystem capability set
// spec.md §4.3 requires: connect, authenticate (delegated to the auth
// collaborator), chdir, stat, mkdir, rmdir, listdir, and open-for-read /
// open-for-write on a single remote session. It is the one place that
// talks SSH/SFTP; everything above it (lockmgr, repo) only sees the
// Session interface, grounded on purpleidea-mgmt/remote.go's use of
// golang.org/x/crypto/ssh + github.com/pkg/sftp.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/mincrmatt12/configsync/internal/synerr"
)

// DefaultPort is the SSH port used when none is specified (spec.md §6.5).
const DefaultPort = 22

// Session is the remote-filesystem capability set a Repository depends
// on. A Session is single-owner and not thread-safe — spec.md §5 requires
// each Repository to own exactly one.
type Session interface {
	Chdir(path string) error
	Stat(path string) (os.FileInfo, error)
	Mkdir(path string) error
	Rmdir(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	OpenRead(path string) (io.ReadCloser, error)
	OpenWrite(path string) (io.WriteCloser, error)
	Close() error
}

// Dial connects and authenticates to host:port and opens an SFTP session
// rooted there. auth is built by the auth collaborator (see internal/auth)
// from the negotiated order password -> agent key -> interactive prompt.
func Dial(ctx context.Context, host string, port int, user string, auth []ssh.AuthMethod) (Session, error) {
	if port == 0 {
		port = DefaultPort
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // no known_hosts management in scope
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(synerr.ErrAuthFailed, "transport: %s", err.Error())
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "transport: open sftp session")
	}

	return &sshSession{client: client, sftp: sftpClient}, nil
}

type sshSession struct {
	client *ssh.Client
	sftp   *sftp.Client
	cwd    string
}

func (s *sshSession) resolve(path string) string {
	return joinCwd(s.cwd, path)
}

func joinCwd(cwd, path string) string {
	if path == "" {
		return cwd
	}
	if cwd == "" {
		return path
	}
	return cwd + "/" + path
}

func (s *sshSession) Chdir(path string) error {
	s.cwd = joinCwd(s.cwd, path)
	return nil
}

func (s *sshSession) Stat(path string) (os.FileInfo, error) {
	return s.sftp.Stat(s.resolve(path))
}

func (s *sshSession) Mkdir(path string) error {
	return s.sftp.Mkdir(s.resolve(path))
}

func (s *sshSession) Rmdir(path string) error {
	return s.sftp.RemoveDirectory(s.resolve(path))
}

func (s *sshSession) ReadDir(path string) ([]os.FileInfo, error) {
	return s.sftp.ReadDir(s.resolve(path))
}

func (s *sshSession) OpenRead(path string) (io.ReadCloser, error) {
	return s.sftp.Open(s.resolve(path))
}

func (s *sshSession) OpenWrite(path string) (io.WriteCloser, error) {
	return s.sftp.Create(s.resolve(path))
}

func (s *sshSession) Close() error {
	s.sftp.Close()
	return s.client.Close()
}
