package syncengine_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mincrmatt12/configsync/internal/logger"
	"github.com/mincrmatt12/configsync/internal/repo"
	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/syncengine"
	"github.com/mincrmatt12/configsync/internal/transport"
	"github.com/mincrmatt12/configsync/internal/urlish"
)

// fakeRunner interprets a tiny line-oriented script DSL instead of
// shelling out to a real interpreter, the same role a mocked
// model/config plays in the teacher's own tests: "WRITE file content"
// (overwrite), "APPEND file content" (adds a line, so re-execution is
// observable), "DELETE file" and "FAIL" (exits non-zero after applying
// any prior lines in the same script).
type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, workdir, scriptPath string) error {
	body, err := os.ReadFile(filepath.Join(workdir, scriptPath))
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.SplitN(line, " ", 3)
		path := ""
		if len(fields) > 1 {
			path = filepath.Join(workdir, fields[1])
		}
		switch fields[0] {
		case "WRITE":
			if err := os.WriteFile(path, []byte(fields[2]+"\n"), 0644); err != nil {
				return err
			}
		case "APPEND":
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return err
			}
			if _, err := f.WriteString(fields[2] + "\n"); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case "DELETE":
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		case "FAIL":
			return fmt.Errorf("script requested failure")
		}
	}
	return nil
}

// testHarness wires one in-memory remote (shared across re-Opens, so it
// behaves like a real persistent remote) and a fresh home directory per
// test.
type testHarness struct {
	t       *testing.T
	session *transport.MemSession
	home    string
	local   string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	m := transport.NewMemSession()
	if err := m.Mkdir("/repo"); err != nil {
		t.Fatal(err)
	}
	rp, err := repo.Open(m, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if err := rp.New(); err != nil {
		t.Fatal(err)
	}
	if err := rp.Close(); err != nil {
		t.Fatal(err)
	}

	home := t.TempDir()
	return &testHarness{t: t, session: m, home: home, local: filepath.Join(home, ".configsync")}
}

func (h *testHarness) opener(ctx context.Context, loc urlish.Locator) (transport.Session, error) {
	return h.session, nil
}

func (h *testHarness) loc() urlish.Locator {
	return urlish.Locator{User: "alice", Host: "h", Path: "/repo"}
}

// append directly appends a script to the harness's remote without going
// through an Engine, to set up chain state ahead of a test.
func (h *testHarness) append(t *testing.T, name string, files []string, body string) string {
	t.Helper()
	rp, err := repo.Open(h.session, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Close()
	if err := rp.Update(); err != nil {
		t.Fatal(err)
	}
	id, err := rp.AppendScript(repo.ScriptEntry{Name: name, Files: files}, []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *testHarness) open(t *testing.T, override *urlish.Locator) *syncengine.Engine {
	t.Helper()
	loc := h.loc()
	var ov *urlish.Locator
	if override != nil {
		ov = override
	} else {
		ov = &loc
	}
	e, err := syncengine.Open(context.Background(), h.home, h.local, h.opener, fakeRunner{}, logger.New(), ov)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (h *testHarness) readLive(t *testing.T, name string) (string, bool) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(h.home, name))
	if os.IsNotExist(err) {
		return "", false
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(b), true
}

func TestSyncEmptyRemoteIsNoop(t *testing.T) {
	h := newHarness(t)
	e := h.open(t, nil)
	defer e.Close()

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if e.At() != "" {
		t.Errorf("at = %q, want empty after syncing an empty remote", e.At())
	}
	if e.Revision() != -1 {
		t.Errorf("revision = %d, want untouched -1: an empty-remote sync only updates the current pointer", e.Revision())
	}
}

func TestSingleScriptSync(t *testing.T) {
	h := newHarness(t)
	idA := h.append(t, "A", []string{"x"}, "WRITE x hi")

	e := h.open(t, nil)
	defer e.Close()

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if e.At() != idA {
		t.Errorf("at = %q, want %q", e.At(), idA)
	}
	got, ok := h.readLive(t, "x")
	if !ok || got != "hi\n" {
		t.Errorf("live x = (%q, %v), want (\"hi\\n\", true)", got, ok)
	}
}

func TestTwoScriptsThenRollback(t *testing.T) {
	h := newHarness(t)
	idA := h.append(t, "A", []string{"x"}, "WRITE x hi")
	idB := h.append(t, "B", []string{"x"}, "WRITE x bye")

	e := h.open(t, nil)
	defer e.Close()

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if e.At() != idB {
		t.Fatalf("at = %q, want %q", e.At(), idB)
	}

	if err := e.Rollback(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if e.At() != idA {
		t.Errorf("at after rollback = %q, want %q", e.At(), idA)
	}
	got, _ := h.readLive(t, "x")
	if got != "hi\n" {
		t.Errorf("live x after rollback = %q, want hi\\n", got)
	}

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if e.At() != idB {
		t.Errorf("at after resync = %q, want %q", e.At(), idB)
	}
	got, _ = h.readLive(t, "x")
	if got != "bye\n" {
		t.Errorf("live x after resync = %q, want bye\\n", got)
	}
}

func TestDesyncRestoresAbsence(t *testing.T) {
	h := newHarness(t)
	h.append(t, "A", []string{"x"}, "WRITE x hi")

	e := h.open(t, nil)
	defer e.Close()

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if err := e.Desync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.At() != "" {
		t.Errorf("at = %q, want empty after desync", e.At())
	}
	if _, ok := h.readLive(t, "x"); ok {
		t.Errorf("expected x removed after desync")
	}
}

func TestFailedScriptRollsBackOneStep(t *testing.T) {
	h := newHarness(t)
	idA := h.append(t, "A", []string{"x"}, "WRITE x hi")
	h.append(t, "C", []string{"y"}, "WRITE y partial\nFAIL")

	e := h.open(t, nil)
	defer e.Close()

	err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1})
	if errCause(err) != synerr.ErrScriptFailed {
		t.Fatalf("expected ErrScriptFailed, got %v", err)
	}
	if e.At() != idA {
		t.Errorf("at after failed script = %q, want predecessor %q", e.At(), idA)
	}
	if _, ok := h.readLive(t, "y"); ok {
		t.Errorf("expected y absent after rollback of its introducing script")
	}
}

func TestRemoteSwitchRequiresDesync(t *testing.T) {
	h := newHarness(t)
	h.append(t, "A", []string{"x"}, "WRITE x hi")

	e := h.open(t, nil)
	defer e.Close()

	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}

	other := urlish.Locator{User: "bob", Host: "h2", Path: "/repo2"}
	err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1, RemoteOverride: &other})
	if errCause(err) != synerr.ErrDesyncFirst {
		t.Fatalf("expected ErrDesyncFirst, got %v", err)
	}
}

func TestFastForwardSkipsReexecution(t *testing.T) {
	h := newHarness(t)
	idA := h.append(t, "A", []string{"ctr"}, "APPEND ctr mark")

	e := h.open(t, nil)
	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.readLive(t, "ctr"); got != "mark\n" {
		t.Fatalf("ctr after first sync = %q, want mark\\n", got)
	}

	// Rolling back idA's only predecessor ("") desyncs; this machine's
	// chain history for idA is preserved in the tracking entry even
	// though the live file is now removed.
	if err := e.Rollback(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if e.At() != "" {
		t.Fatalf("at after rollback to head's predecessor = %q, want empty", e.At())
	}

	// Re-syncing now must fast-forward (restore the recorded blob)
	// rather than re-run the script: APPEND would otherwise double the
	// marker line.
	if err := e.Sync(context.Background(), syncengine.SyncOptions{FastForward: true, MaxIterations: -1}); err != nil {
		t.Fatal(err)
	}
	if e.At() != idA {
		t.Errorf("at = %q, want %q", e.At(), idA)
	}
	if got, _ := h.readLive(t, "ctr"); got != "mark\n" {
		t.Errorf("ctr after fast-forward resync = %q, want mark\\n (re-execution would double it)", got)
	}
	e.Close()
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
