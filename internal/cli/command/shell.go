package command

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/cli/config"
	"github.com/yndnr/meshkv/internal/cli/repl"
)

// metaShell marks an App run from inside the shell.
const metaShell = "shell"

// ShellCommand returns the interactive shell.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:   "shell",
		Usage:  "Run commands interactively",
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	if shared(c) {
		return errors.New("already in a shell")
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	histFile := cliConfig(c).HistoryFile
	if histFile == "" {
		histFile = config.DefaultHistoryPath()
	}
	hist := repl.NewHistory(histFile, repl.DefaultHistorySize)
	if err := hist.Load(); err != nil {
		verbosef(c, "history not loaded: %v", err)
	}
	defer func() {
		if err := hist.Save(); err != nil {
			verbosef(c, "history not saved: %v", err)
		}
	}()

	r := repl.New(c.App.Reader, stdout(c), shellExec(c),
		repl.WithHistory(hist),
		repl.WithCompleter(repl.NewCompleter(commandPaths(c.App.Commands, ""))),
	)
	return r.Run(ctx)
}

// shellExec runs each line as a fresh App invocation that inherits the
// global flags and the connection manager of the enclosing one.
func shellExec(c *cli.Context) repl.ExecFunc {
	globals := inheritedFlags(c)
	return func(ctx context.Context, args []string) error {
		app := App()
		app.Reader = c.App.Reader
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.Metadata = map[string]any{
			metaConnMgr: GetConnectionManager(c),
			metaShell:   true,
		}
		app.ExitErrHandler = func(*cli.Context, error) {}

		argv := append([]string{app.Name}, globals...)
		return app.RunContext(ctx, append(argv, args...))
	}
}

func inheritedFlags(c *cli.Context) []string {
	var out []string
	for _, name := range []string{"server", "output", "config"} {
		if c.IsSet(name) {
			out = append(out, "--"+name, c.String(name))
		}
	}
	for _, name := range []string{"wide", "verbose"} {
		if c.Bool(name) {
			out = append(out, "--"+name)
		}
	}
	return out
}

// commandPaths flattens a command tree into "parent child" paths.
func commandPaths(cmds []*cli.Command, prefix string) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Name == "shell" {
			continue
		}
		p := prefix + cmd.Name
		out = append(out, p)
		out = append(out, commandPaths(cmd.Subcommands, p+" ")...)
	}
	return out
}
