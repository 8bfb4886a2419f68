package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
	"github.com/yndnr/chainstate-go/internal/cli/output"
)

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Block state snapshots",
		Subcommands: []*cli.Command{
			{
				Name:      "digest",
				Usage:     "Compute the state digest of a block, reconstructing it if needed",
				ArgsUsage: "<block-hash>",
				Action:    snapshotDigest,
			},
		},
	}
}

func snapshotDigest(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var spinner *output.Spinner
	if interactive(c) {
		spinner = output.NewSpinner(c.App.ErrWriter, "Reconstructing "+hash.Short())
		spinner.Start()
		defer spinner.Stop()
	}

	resp, err := newClient(c).Get(ctx, "/v1/snapshots/"+hash.String()+"/digest")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result digestResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	if spinner != nil {
		spinner.Stop()
	}
	return render(c, result)
}
