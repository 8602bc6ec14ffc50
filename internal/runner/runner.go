// Package runner executes a downloaded script as a subprocess, the way
// configfiles/local/db.py's sync loop calls subprocess.run(path,
// cwd=...). The engine provides only a working directory and a path;
// no sandboxing is attempted or promised (spec.md §9).
package runner

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/synerr"
)

// Run executes scriptPath (relative to workdir) with workdir as its
// current directory, and maps a non-zero exit to ErrScriptFailed.
func Run(ctx context.Context, workdir, scriptPath string) error {
	// exec resolves a relative Path against the calling process's own
	// cwd, not cmd.Dir, so the executable itself needs an absolute path
	// even though the subprocess's cwd is workdir.
	cmd := exec.CommandContext(ctx, filepath.Join(workdir, scriptPath))
	cmd.Dir = workdir

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return errors.Wrap(synerr.ErrScriptFailed, err.Error())
		}
		return errors.Wrap(synerr.ErrRemoteIO, "runner: start script: "+err.Error())
	}
	return nil
}
