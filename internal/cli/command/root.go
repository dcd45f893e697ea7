package command

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/cli/config"
	"github.com/yndnr/meshkv/internal/cli/connection"
	"github.com/yndnr/meshkv/internal/cli/output"
	"github.com/yndnr/meshkv/internal/infra/buildinfo"
)

// Metadata keys shared by the commands of one invocation.
const (
	metaConnMgr = "connMgr"
	metaConfig  = "config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "meshkv-cli",
		Usage:   "meshkv persistence management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SaveCommand(),
			BackgroundSaveCommand(),
			LoadCommand(),
			InfoCommand(),
			ConfigCommand(),
			SnapshotCommand(),
			ShellCommand(),
		},
		Before: before,
		After: func(c *cli.Context) error {
			if mgr := GetConnectionManager(c); mgr != nil && !shared(c) {
				return mgr.Close()
			}
			return nil
		},
	}
}

// before loads ~/.meshkv/cli.yaml, overlays MESHKV_* variables and sets up
// the connection manager unless an enclosing shell already did.
func before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	config.Merge(cfg, config.Environ(), nil)
	c.App.Metadata[metaConfig] = cfg

	if _, ok := c.App.Metadata[metaConnMgr]; !ok {
		c.App.Metadata[metaConnMgr] = connection.NewManager()
	}
	_, err = output.ParseFormat(string(ParseGlobalFlags(c).Output))
	return err
}

// shared reports whether the connection manager belongs to a shell session.
func shared(c *cli.Context) bool {
	s, _ := c.App.Metadata[metaShell].(bool)
	return s
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "meshkv RESP address or alias from cli.yaml (default: $MESHKV_SERVER or 127.0.0.1:6379)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml (default: $MESHKV_OUTPUT or table)",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "CLI config file (default: ~/.meshkv/cli.yaml)",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// GlobalFlags holds the effective global settings.
type GlobalFlags struct {
	Server      string
	Output      output.Format
	Wide        bool
	Verbose     bool
	SnapshotDir string
}

// ParseGlobalFlags combines flags with the loaded CLI config. Flags win.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg := cliConfig(c)
	out := c.String("output")
	if out == "" {
		out = cfg.DefaultOutput
	}
	format, err := output.ParseFormat(out)
	if err != nil {
		format = output.Format(out)
	}
	return &GlobalFlags{
		Server:      cfg.ResolveServer(c.String("server")),
		Output:      format,
		Wide:        c.Bool("wide"),
		Verbose:     c.Bool("verbose"),
		SnapshotDir: cfg.SnapshotDir,
	}
}

func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata[metaConnMgr].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// EnsureConnected returns a client for the selected server after checking
// it answers.
func EnsureConnected(ctx context.Context, c *cli.Context) (*connection.Client, error) {
	addr := ParseGlobalFlags(c).Server
	mgr := GetConnectionManager(c)
	if mgr == nil {
		mgr = connection.NewManager()
		c.App.Metadata[metaConnMgr] = mgr
	}
	client := mgr.Get(addr)
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// requestContext bounds one server round trip.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, connection.DefaultTimeout)
}

// stdout returns the writer commands print results to.
func stdout(c *cli.Context) io.Writer {
	return c.App.Writer
}

// stderr returns the writer for progress and warnings.
func stderr(c *cli.Context) io.Writer {
	return c.App.ErrWriter
}

// render prints data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	return output.NewFormatter(flags.Output, flags.Wide).Format(stdout(c), data)
}

// structured reports whether the output is meant for machines.
func structured(c *cli.Context) bool {
	return ParseGlobalFlags(c).Output != output.FormatTable
}

// verbosef prints to stderr when --verbose is set.
func verbosef(c *cli.Context, format string, args ...any) {
	if c.Bool("verbose") {
		fmt.Fprintf(stderr(c), format+"\n", args...)
	}
}
