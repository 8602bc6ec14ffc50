// Command configsync is the CLI surface named in spec.md §6.4, built
// with github.com/alecthomas/kong the way the teacher's cmd/syncthing/cli
// pre-parses its global flags, here used for the whole subcommand tree
// since this CLI has no separate daemon/API boundary to layer a second
// framework under.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/mincrmatt12/configsync/internal/auth"
	"github.com/mincrmatt12/configsync/internal/gen"
	"github.com/mincrmatt12/configsync/internal/logger"
	"github.com/mincrmatt12/configsync/internal/osutil"
	"github.com/mincrmatt12/configsync/internal/runner"
	"github.com/mincrmatt12/configsync/internal/synerr"
	"github.com/mincrmatt12/configsync/internal/syncengine"
	"github.com/mincrmatt12/configsync/internal/transport"
	"github.com/mincrmatt12/configsync/internal/urlish"
)

// globals holds the flags spec.md §6.4 declares outside the subcommand
// tree: "-u/--username, -p/--password, --interactive/--no-interactive,
// --local <dir>".
type globals struct {
	Username    string `name:"username" short:"u" help:"remote SSH username, overrides the urlish"`
	Password    string `name:"password" short:"p" help:"remote SSH password"`
	Interactive bool   `name:"interactive" default:"true" negatable:"" help:"fall back to an interactive password prompt"`
	Local       string `name:"local" type:"path" help:"override the home directory that holds tracked files and the .configsync state directory (default: user home directory)"`
}

type cli struct {
	globals

	Init     initCmd     `cmd:"" help:"initialize an empty remote repository"`
	Sync     syncCmd     `cmd:"" help:"advance local state to the remote chain"`
	Desync   desyncCmd   `cmd:"" help:"restore every tracked file to its pre-sync original"`
	Rollback rollbackCmd `cmd:"" help:"step local state backward"`
	Add      addCmd      `cmd:"" help:"append a user-supplied script"`
	Update   updateCmd   `cmd:"" help:"generate and append a create-or-update script template"`
}

func main() {
	var c cli
	parser := kong.Must(&c, kong.Name("configsync"), kong.UsageOnError())
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	err = kctx.Run(&c.globals)
	if err != nil {
		logger.DefaultLogger.Warnf("%s", errCauseMessage(err))
		os.Exit(1)
	}
}

// errCauseMessage renders the sentinel kind from synerr if present,
// otherwise the full wrapped message.
func errCauseMessage(err error) string {
	type causer interface{ Cause() error }
	cause := err
	for {
		c, ok := cause.(causer)
		if !ok {
			break
		}
		cause = c.Cause()
	}
	for _, sentinel := range []error{
		synerr.ErrBusy, synerr.ErrAuthFailed, synerr.ErrRemoteIO, synerr.ErrNotInitialized,
		synerr.ErrAlreadyInitialized, synerr.ErrDesyncFirst, synerr.ErrScriptFailed,
		synerr.ErrMissingFile, synerr.ErrBadUrlish, synerr.ErrIndexCorrupt,
	} {
		if cause == sentinel {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// resolveLocalDir applies spec.md §6.3's default: the user's home
// directory unless --local overrides it. The engine's own local state
// then lives in a ".configsync" subdirectory of it, following
// configfiles/local/db.py's "~/.configfiles" convention.
func resolveLocalDir(g *globals) (homeDir, localDir string, err error) {
	homeDir = g.Local
	if homeDir == "" {
		homeDir, err = osutil.ExpandTilde("~")
		if err != nil {
			return "", "", errors.Wrap(err, "configsync: resolve home directory")
		}
	}
	return homeDir, homeDir + "/.configsync", nil
}

// opener builds a syncengine.SessionOpener bound to the global auth
// flags, dialing the real SSH/SFTP transport (spec.md §6.5's
// password -> agent key -> interactive order).
func opener(g *globals) syncengine.SessionOpener {
	return func(ctx context.Context, loc urlish.Locator) (transport.Session, error) {
		user, methods, err := auth.Methods(auth.Params{
			Username:      g.Username,
			Password:      g.Password,
			NoInteractive: !g.Interactive,
		}, loc.User)
		if err != nil {
			return nil, err
		}
		return transport.Dial(ctx, loc.Host, transport.DefaultPort, user, methods)
	}
}

func openEngine(ctx context.Context, g *globals, remoteOverride *urlish.Locator) (*syncengine.Engine, error) {
	homeDir, localDir, err := resolveLocalDir(g)
	if err != nil {
		return nil, err
	}
	return syncengine.Open(ctx, homeDir, localDir, opener(g), execRunner{}, logger.DefaultLogger, remoteOverride)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, workdir, scriptPath string) error {
	return runner.Run(ctx, workdir, scriptPath)
}

type initCmd struct {
	Remote string `arg:"" help:"[user@]host:path of the new remote repository"`
}

func (c *initCmd) Run(g *globals) error {
	loc, err := urlish.Parse(c.Remote)
	if err != nil {
		return err
	}
	if err := syncengine.Init(context.Background(), opener(g), loc); err != nil {
		return err
	}
	fmt.Printf("created blank configsync repo at %s\n", c.Remote)
	return nil
}

type syncCmd struct {
	Remote string `arg:"" optional:"" help:"switch to this remote before syncing"`
	FF     bool   `name:"ff" default:"true" negatable:"" help:"allow fast-forwarding"`
	Count  int    `name:"count" short:"c" default:"-1" help:"number of scripts to apply, -1 for until caught up"`
}

func (c *syncCmd) Run(g *globals) error {
	var override *urlish.Locator
	if c.Remote != "" {
		loc, err := urlish.Parse(c.Remote)
		if err != nil {
			return err
		}
		override = &loc
	}

	e, err := openEngine(context.Background(), g, override)
	if err != nil {
		return err
	}
	defer e.Close()

	return e.Sync(context.Background(), syncengine.SyncOptions{
		FastForward:    c.FF,
		RemoteOverride: override,
		MaxIterations:  c.Count,
	})
}

type desyncCmd struct{}

func (c *desyncCmd) Run(g *globals) error {
	e, err := openEngine(context.Background(), g, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.Desync(context.Background())
}

type rollbackCmd struct {
	Times int `arg:"" optional:"" default:"1" help:"number of scripts to step back"`
}

func (c *rollbackCmd) Run(g *globals) error {
	e, err := openEngine(context.Background(), g, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.Rollback(context.Background(), c.Times)
}

type addCmd struct {
	Script string   `arg:"" type:"existingfile" help:"path to the script to append"`
	Files  []string `arg:"" optional:"" help:"repo-relative filenames the script touches"`
	Apply  bool     `name:"apply" help:"run the script immediately after appending"`
	Name   string   `name:"name" short:"n" help:"human label for the script"`
}

func (c *addCmd) Run(g *globals) error {
	e, err := openEngine(context.Background(), g, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	text, err := os.ReadFile(c.Script)
	if err != nil {
		return errors.Wrap(err, "configsync: read script")
	}

	name := c.Name
	if name == "" {
		name = "custom script " + c.Script
	}

	return e.Append(context.Background(), text, name, c.Files, c.Apply)
}

type updateCmd struct {
	Files []string `arg:"" help:"repo-relative filenames to create or update"`
	Name  string   `name:"name" short:"n" help:"human label applied to every generated script"`
}

func (c *updateCmd) Run(g *globals) error {
	homeDir, _, err := resolveLocalDir(g)
	if err != nil {
		return err
	}

	e, err := openEngine(context.Background(), g, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var writes, patches []string
	for _, f := range c.Files {
		if e.IsTracked(f) {
			patches = append(patches, f)
		} else {
			writes = append(writes, f)
		}
	}

	if len(writes) > 0 {
		name := c.Name
		if name == "" {
			name = "create " + joinComma(writes)
		}
		text, err := gen.CreateTemplateWrite(homeDir, writes)
		if err != nil {
			return err
		}
		if err := e.Append(context.Background(), text, name, writes, false); err != nil {
			return err
		}
	}
	if len(patches) > 0 {
		name := c.Name
		if name == "" {
			name = "update " + joinComma(patches)
		}
		text, err := gen.CreateTemplateUpdate(homeDir, patches)
		if err != nil {
			return err
		}
		if err := e.Append(context.Background(), text, name, patches, false); err != nil {
			return err
		}
	}

	fmt.Println("created scripts")
	return nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
