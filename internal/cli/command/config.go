package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show server runtime parameters (glob patterns allowed)",
				ArgsUsage: "[PATTERN...]",
				Action:    configGet,
			},
			{
				Name:      "set",
				Usage:     "Change a server runtime parameter (snapshot_cron, save_schedule, dbfilename, snapshot_format, loglevel)",
				ArgsUsage: "PARAM VALUE",
				Action:    configSet,
			},
			{
				Name:  "cli",
				Usage: "CLI local configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show the effective CLI configuration",
						Action: configCLIShow,
					},
					{
						Name:   "validate",
						Usage:  "Validate the CLI configuration file",
						Action: configCLIValidate,
					},
					{
						Name:      "add-server",
						Usage:     "Save a server alias",
						ArgsUsage: "ALIAS ADDR",
						Action:    configCLIAddServer,
					},
				},
			},
		},
	}
}

func configGet(c *cli.Context) error {
	patterns := c.Args().Slice()
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	client, err := EnsureConnected(ctx, c)
	if err != nil {
		return err
	}
	params, err := client.ConfigGet(ctx, patterns...)
	if err != nil {
		return fmt.Errorf("config get failed: %w", err)
	}
	return render(c, params)
}

func configSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: config set PARAM VALUE")
	}
	param, value := c.Args().Get(0), c.Args().Get(1)

	ctx, cancel := requestContext(c)
	defer cancel()
	client, err := EnsureConnected(ctx, c)
	if err != nil {
		return err
	}
	if err := client.ConfigSet(ctx, param, value); err != nil {
		return fmt.Errorf("config set %s failed: %w", param, err)
	}
	fmt.Fprintf(stdout(c), "%s = %q\n", param, value)
	return nil
}

func configCLIShow(c *cli.Context) error {
	return render(c, cliConfig(c))
}

func configCLIValidate(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "%s: OK\n", path)
	return nil
}

func configCLIAddServer(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: config cli add-server ALIAS ADDR")
	}
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.Servers[c.Args().Get(0)] = c.Args().Get(1)
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "server %q saved\n", c.Args().Get(0))
	return nil
}
