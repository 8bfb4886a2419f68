package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health checks",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check server liveness",
				Action: healthCheck("/health"),
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can serve snapshots",
				Action: healthCheck("/ready"),
			},
		},
	}
}

func healthCheck(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := requestContext(c)
		defer cancel()

		client := newClient(c)
		resp, err := client.Get(ctx, path)
		if err != nil {
			return fmt.Errorf("%s unreachable: %w", client.BaseURL(), err)
		}
		var result healthResult
		if err := connection.ParseResponse(resp, &result); err != nil {
			return err
		}
		return render(c, result)
	}
}
