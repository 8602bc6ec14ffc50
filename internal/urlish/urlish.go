// Package urlish parses the "[user@]host:path" remote locators used to
// address a configsync repository, following configfiles/auth.py's
// interpret_urlish.
package urlish

import (
	"os/user"
	"strings"

	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/synerr"
)

// Locator is a parsed "[user@]host:path" remote address.
type Locator struct {
	User string
	Host string
	Path string
}

// Parse splits s into its user, host and path components. The user
// defaults to the current OS login if not given. The colon that splits
// host from path is the first one found after any "@"; trailing slashes
// and whitespace are stripped from path.
func Parse(s string) (Locator, error) {
	rest := s
	username := ""

	if at := strings.Index(rest, "@"); at >= 0 {
		if colon := strings.Index(rest, ":"); colon < 0 || at < colon {
			username, rest = rest[:at], rest[at+1:]
		}
	}

	colon := strings.Index(rest, ":")
	var host, path string
	if colon < 0 {
		host, path = rest, ""
	} else {
		host, path = rest[:colon], rest[colon+1:]
	}

	if username == "" {
		u, err := user.Current()
		if err != nil {
			return Locator{}, errors.Wrap(err, "urlish: determine current user")
		}
		username = u.Username
	}

	path = strings.TrimRight(path, "/ \t\r\n")

	if host == "" {
		return Locator{}, synerr.ErrBadUrlish
	}

	return Locator{User: username, Host: host, Path: path}, nil
}

// String reassembles the locator into "user@host:path" form.
func (l Locator) String() string {
	return l.User + "@" + l.Host + ":" + l.Path
}
