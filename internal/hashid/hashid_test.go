package hashid_test

import (
	"testing"

	"github.com/mincrmatt12/configsync/internal/hashid"
)

func TestRemoteIDIgnoresTrailingSlashes(t *testing.T) {
	a := hashid.RemoteID("example.com", "cfg/mine")
	b := hashid.RemoteID("example.com", "cfg/mine///")
	c := hashid.RemoteID("example.com", "cfg/mine ")
	if a != b || a != c {
		t.Errorf("RemoteID not stable under trailing slashes/whitespace: %q %q %q", a, b, c)
	}
}

func TestRemoteIDDistinguishesPaths(t *testing.T) {
	a := hashid.RemoteID("example.com", "cfg/mine")
	b := hashid.RemoteID("example.com", "cfg/other")
	if a == b {
		t.Errorf("RemoteID collided for distinct paths")
	}
}

func TestScriptIDDeterministic(t *testing.T) {
	a := hashid.ScriptID([]byte("echo hi\n"))
	b := hashid.ScriptID([]byte("echo hi\n"))
	if a != b {
		t.Errorf("ScriptID not deterministic: %q != %q", a, b)
	}
	c := hashid.ScriptID([]byte("echo bye\n"))
	if a == c {
		t.Errorf("ScriptID collided for distinct contents")
	}
}

func TestFileVersionIDScopedByAllThreeComponents(t *testing.T) {
	base := hashid.FileVersionID("remote1", "x", "script1")
	if v := hashid.FileVersionID("remote2", "x", "script1"); v == base {
		t.Errorf("FileVersionID ignored remote id")
	}
	if v := hashid.FileVersionID("remote1", "y", "script1"); v == base {
		t.Errorf("FileVersionID ignored filename")
	}
	if v := hashid.FileVersionID("remote1", "x", "script2"); v == base {
		t.Errorf("FileVersionID ignored script id")
	}
}

func TestFileVersionIDSentinelForOriginal(t *testing.T) {
	v := hashid.FileVersionID("remote1", "x", "")
	if v == "" {
		t.Errorf("FileVersionID with empty scriptID should still hash to a concrete id")
	}
}
