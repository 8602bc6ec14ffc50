// Package auth interprets the global -u/-p/--interactive CLI flags into
// an ordered list of ssh.AuthMethod, following configfiles/auth.py's
// interpret_authentication_params/authenticate_transport fallback order:
// password (if supplied) -> first available agent key -> interactive
// password prompt, unless --no-interactive. Grounded on
// purpleidea-mgmt/remote.go's sshKeyAuth/passwordCallback construction of
// ssh.AuthMethod values from the same golang.org/x/crypto/ssh package the
// teacher already depends on.
package auth

import (
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"

	"github.com/mincrmatt12/configsync/internal/synerr"
)

// Params mirrors spec.md §6.5's global options: "-u/--username,
// -p/--password, --interactive/--no-interactive".
type Params struct {
	Username      string
	Password      string
	NoInteractive bool
}

// Methods builds the ordered ssh.AuthMethod list for the given params.
// Username defaults to urlishUser, the user component already parsed out
// of the remote locator, matching the Python guessed_username fallback.
func Methods(p Params, urlishUser string) (username string, methods []ssh.AuthMethod, err error) {
	username = p.Username
	if username == "" {
		username = urlishUser
	}

	if p.Password != "" {
		methods = append(methods, ssh.Password(p.Password))
	}

	if am, ok := agentAuthMethod(); ok {
		methods = append(methods, am)
	}

	if !p.NoInteractive {
		methods = append(methods, ssh.RetryableAuthMethod(ssh.PasswordCallback(func() (string, error) {
			return promptPassword(username)
		}), 3))
	}

	if len(methods) == 0 {
		return "", nil, errors.Wrap(synerr.ErrAuthFailed, "auth: no authentication method available")
	}
	return username, methods, nil
}

// agentAuthMethod opens SSH_AUTH_SOCK and wraps the agent's first key as
// an ssh.AuthMethod, the Go analogue of paramiko.agent.Agent().get_keys()[0].
func agentAuthMethod() (ssh.AuthMethod, bool) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, false
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, false
	}
	ag := agent.NewClient(conn)
	signers, err := ag.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil, false
	}
	return ssh.PublicKeys(signers[0]), true
}

// promptPassword asks for a password on the controlling terminal with
// echo disabled, the Go analogue of getpass.getpass.
func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s's password: ", username)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(synerr.ErrAuthFailed, err.Error())
	}
	return string(pw), nil
}
