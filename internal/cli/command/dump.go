package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
)

// DumpCommand returns the dump subcommand group.
func DumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Materialized state snapshots",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List dumps and their reference counts",
				Action:  dumpList,
			},
			{
				Name:   "recycle",
				Usage:  "Delete every dump nobody references",
				Action: dumpRecycle,
			},
		},
	}
}

func dumpList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/v1/dumps")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var dumps []dumpRow
	if err := connection.ParseResponse(resp, &dumps); err != nil {
		return err
	}
	return render(c, dumps)
}

func dumpRecycle(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Post(ctx, "/v1/dumps/recycle", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result recycleResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	return render(c, result)
}

// ViewCommand returns the view subcommand group.
func ViewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Open snapshot views",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List open views and their reference counts",
				Action:  viewList,
			},
		},
	}
}

func viewList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/v1/views")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var views []viewRow
	if err := connection.ParseResponse(resp, &views); err != nil {
		return err
	}
	return render(c, views)
}
