package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshkv/internal/cli/connection"
	"github.com/yndnr/meshkv/internal/cli/output"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Snapshot format: rdb (single file) or df (sharded); default is the server's",
	}
}

// SaveCommand returns the blocking save command.
func SaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Write a snapshot and wait for it to finish",
		ArgsUsage: "[NAME]",
		Flags:     []cli.Flag{formatFlag()},
		Action:    saveAction,
	}
}

// BackgroundSaveCommand returns the bgsave command.
func BackgroundSaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "bgsave",
		Usage:     "Start a snapshot in the background",
		ArgsUsage: "[NAME]",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the save to finish",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting after this long",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval while waiting",
				Value: 500 * time.Millisecond,
			},
		},
		Action: bgsaveAction,
	}
}

// LoadCommand returns the load command.
func LoadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Replace the server dataset with a snapshot",
		ArgsUsage: "NAME",
		Action:    loadAction,
	}
}

// InfoCommand returns the info command.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show server persistence status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "section",
				Usage: "INFO section: persistence, server, keyspace or all",
				Value: "persistence",
			},
		},
		Action: infoAction,
	}
}

// SaveResult is printed after a save completes.
type SaveResult struct {
	File     string        `json:"file" yaml:"file"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Status   string        `json:"status" yaml:"status"`
}

// formatArg validates --format locally; the server would read an unknown
// format word as a snapshot name.
func formatArg(c *cli.Context) (string, error) {
	f := c.String("format")
	if f == "" {
		return "", nil
	}
	if _, err := snapshot.ParseFormat(f); err != nil {
		return "", err
	}
	return f, nil
}

func optionalName(c *cli.Context) (string, error) {
	switch c.NArg() {
	case 0:
		return "", nil
	case 1:
		return c.Args().First(), nil
	default:
		return "", fmt.Errorf("expected at most one NAME, got %d arguments", c.NArg())
	}
}

func saveAction(c *cli.Context) error {
	name, err := optionalName(c)
	if err != nil {
		return err
	}
	format, err := formatArg(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	client, err := EnsureConnected(ctx, c)
	if err != nil {
		return err
	}
	verbosef(c, "SAVE on %s", client.Addr())
	if err := client.Save(ctx, format, name); err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	p, err := client.Persistence(ctx)
	if err != nil {
		return err
	}
	return printSaveResult(c, p)
}

func printSaveResult(c *cli.Context, p *connection.Persistence) error {
	res := SaveResult{File: p.LastSaveFile, Duration: p.LastSaveDuration, Status: p.LastSaveStatus}
	if structured(c) {
		return render(c, res)
	}
	fmt.Fprintf(stdout(c), "Saved %s in %s\n", res.File, res.Duration)
	return nil
}

func bgsaveAction(c *cli.Context) error {
	name, err := optionalName(c)
	if err != nil {
		return err
	}
	format, err := formatArg(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	client, err := EnsureConnected(ctx, c)
	if err != nil {
		cancel()
		return err
	}
	before, err := client.Persistence(ctx)
	if err != nil {
		cancel()
		return err
	}
	msg, err := client.BackgroundSave(ctx, format, name)
	cancel()
	if err != nil {
		return fmt.Errorf("bgsave failed: %w", err)
	}
	if !c.Bool("wait") {
		fmt.Fprintln(stdout(c), msg)
		return nil
	}

	ctx, cancel = context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	spinner := output.NewSpinner(stderr(c), "Saving")
	if !structured(c) {
		spinner.Start()
	}
	started := time.Now()
	p, err := client.WaitForSave(ctx, c.Duration("interval"), func(*connection.Persistence) {
		spinner.SetMessage(fmt.Sprintf("Saving (%s)", time.Since(started).Truncate(time.Second)))
	})
	if err != nil {
		spinner.Fail("wait for save failed")
		return err
	}
	// A finished save bumps one of the two counters.
	if p.Saves+p.SaveFailures == before.Saves+before.SaveFailures {
		spinner.Fail("save did not run")
		return errors.New("background save finished without a recorded result")
	}
	if p.LastSaveStatus != "ok" {
		spinner.Fail("save failed")
		return fmt.Errorf("background save failed (status %q); see server log", p.LastSaveStatus)
	}
	spinner.Stop()
	return printSaveResult(c, p)
}

func loadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: load NAME")
	}
	name := c.Args().First()

	ctx, cancel := requestContext(c)
	defer cancel()
	client, err := EnsureConnected(ctx, c)
	if err != nil {
		return err
	}
	verbosef(c, "DEBUG LOAD %s on %s", name, client.Addr())
	if err := client.Load(ctx, name); err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	p, err := client.Persistence(ctx)
	if err != nil {
		return err
	}
	if structured(c) {
		return render(c, map[string]any{"source": p.LastLoadSource, "keys": p.LastLoadKeys})
	}
	fmt.Fprintf(stdout(c), "Loaded %d keys from %s\n", p.LastLoadKeys, p.LastLoadSource)
	return nil
}

func infoAction(c *cli.Context) error {
	section := strings.ToLower(c.String("section"))
	ctx, cancel := requestContext(c)
	defer cancel()
	client, err := EnsureConnected(ctx, c)
	if err != nil {
		return err
	}

	if section == "persistence" {
		p, err := client.Persistence(ctx)
		if err != nil {
			return err
		}
		return render(c, p)
	}

	info, err := client.Info(ctx, section)
	if err != nil {
		return err
	}
	if section != "all" {
		return render(c, info[section])
	}
	return render(c, info)
}
