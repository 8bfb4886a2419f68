package command

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// HeaderCommand returns the header subcommand group.
func HeaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "header",
		Usage: "Block header index",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a block header",
				ArgsUsage: "<block-hash>",
				Action:    headerShow,
			},
			{
				Name:      "ancestors",
				Usage:     "List a block's ancestors, newest first",
				ArgsUsage: "<block-hash>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of headers (0 = server maximum)",
					},
				},
				Action: headerAncestors,
			},
			{
				Name:      "put",
				Usage:     "Record a block's parent link",
				ArgsUsage: "<block-hash>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "parent",
						Usage: "Parent block hash (omit for genesis)",
					},
					&cli.Uint64Flag{
						Name:  "number",
						Usage: "Block number",
					},
				},
				Action: headerPut,
			},
		},
	}
}

func headerShow(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/v1/headers/"+hash.String())
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var header headerRow
	if err := connection.ParseResponse(resp, &header); err != nil {
		return err
	}
	return render(c, header)
}

func headerAncestors(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}
	path := "/v1/headers/" + hash.String() + "/ancestors"
	if limit := c.Int("limit"); limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var headers []headerRow
	if err := connection.ParseResponse(resp, &headers); err != nil {
		return err
	}
	return render(c, headers)
}

func headerPut(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}
	req := putHeaderRequest{Number: c.Uint64("number")}
	if parent := c.String("parent"); parent != "" {
		if req.PreBlockHash, err = domain.ParseBlockHash(parent); err != nil {
			return fmt.Errorf("--parent: %w", err)
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Put(ctx, "/v1/headers/"+hash.String(), req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var header headerRow
	if err := connection.ParseResponse(resp, &header); err != nil {
		return err
	}
	return render(c, header)
}
