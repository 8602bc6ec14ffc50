// Package hashid derives the three stable identifiers the rest of the
// system is keyed on: RemoteID, ScriptID and FileVersionID. All three are
// hex-encoded SHA-512 digests over UTF-8 byte strings, following
// configfiles/local/hashes.py and configfiles/repo/obj.py. The update
// order for each kind is fixed and semantically meaningful — see spec.md
// §3 and §4.2 — so callers must go through these functions rather than
// hash ad hoc.
package hashid

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

func digest(parts ...string) string {
	h := sha512.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RemoteID derives the stable identifier of a remote from its host and
// path, right-trimming both of trailing whitespace and slashes so that
// locators differing only in a trailing slash collide on purpose.
func RemoteID(host, path string) string {
	host = strings.TrimRight(host, "/ \t\r\n")
	path = strings.TrimRight(path, "/ \t\r\n")
	return digest(host, path)
}

// ScriptID derives a script's identity from its contents.
func ScriptID(contents []byte) string {
	return digest(string(contents))
}

// FileVersionID derives the identity of filename's state after scriptID
// has executed, scoped to remoteID. scriptID == "" denotes the pre-sync
// ("original") state.
func FileVersionID(remoteID, filename, scriptID string) string {
	return digest(remoteID, filename, scriptID)
}
