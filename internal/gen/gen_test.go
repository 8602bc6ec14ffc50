package gen_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mincrmatt12/configsync/internal/gen"
)

func TestCreateTemplateWriteEmbedsCurrentBytes(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "x"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	body, err := gen.CreateTemplateWrite(home, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	want := base64.StdEncoding.EncodeToString([]byte("hello\n"))
	if !strings.Contains(string(body), want) {
		t.Errorf("generated script missing base64 payload %q:\n%s", want, body)
	}
	if !strings.Contains(string(body), `open("x"`) {
		t.Errorf("generated script missing write of x:\n%s", body)
	}
}

func TestCreateTemplateUpdateHandlesMissingFile(t *testing.T) {
	home := t.TempDir()

	body, err := gen.CreateTemplateUpdate(home, []string{"missing"})
	if err != nil {
		t.Fatal(err)
	}
	want := `base64.b64decode("")`
	if !strings.Contains(string(body), want) {
		t.Errorf("expected empty-payload write for a missing file:\n%s", body)
	}
}
