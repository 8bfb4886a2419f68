package command

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
	"github.com/yndnr/chainstate-go/internal/cli/output"
	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
)

// RedoCommand returns the redo subcommand group.
func RedoCommand() *cli.Command {
	return &cli.Command{
		Name:  "redo",
		Usage: "Per-block redo logs",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List blocks that have a redo log",
				Action:  redoList,
			},
			{
				Name:      "has",
				Usage:     "Check whether a block has a redo log",
				ArgsUsage: "<block-hash>",
				Action:    redoHas,
			},
			{
				Name:      "get",
				Usage:     "Download a redo log",
				ArgsUsage: "<block-hash>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Destination file (- for stdout)",
						Value:   "-",
					},
				},
				Action: redoGet,
			},
			{
				Name:      "put",
				Usage:     "Upload a redo log file for a block",
				ArgsUsage: "<block-hash> <file>",
				Action:    redoPut,
			},
			{
				Name:      "decode",
				Usage:     "Print the records of a redo log file (offline)",
				ArgsUsage: "<file>",
				Action:    redoDecode,
			},
		},
	}
}

func redoList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/v1/redo")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var hashes []domain.BlockHash
	if err := connection.ParseResponse(resp, &hashes); err != nil {
		return err
	}
	return render(c, hashes)
}

func redoHas(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Head(ctx, "/v1/redo/"+hash.String())
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return render(c, redoStatus{Hash: hash, Exists: true})
	case http.StatusNotFound:
		return render(c, redoStatus{Hash: hash})
	default:
		return &connection.Error{Status: resp.StatusCode, Code: resp.Header.Get("X-Error-Code")}
	}
}

func redoGet(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := newClient(c).Get(ctx, "/v1/redo/"+hash.String())
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := connection.CheckStatus(resp); err != nil {
		return err
	}

	dest := c.String("file")
	if dest == "-" {
		_, err := io.Copy(c.App.Writer, resp.Body)
		return err
	}

	var body io.Reader = resp.Body
	var bar *output.ProgressBar
	if interactive(c) {
		bar = output.NewProgressBar(c.App.ErrWriter, hash.Short())
		bar.SetTotal(resp.ContentLength)
		body = bar.Reader(body)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read redo log: %w", err)
	}
	if bar != nil {
		bar.Finish()
	}
	// Refuse to write a log that would not replay.
	if _, err := redo.Decode(data); err != nil {
		return fmt.Errorf("downloaded redo log is invalid: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

func redoPut(c *cli.Context) error {
	hash, err := hashArg(c, 0)
	if err != nil {
		return err
	}
	path := c.Args().Get(1)
	if path == "" {
		return fmt.Errorf("missing file argument")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := redo.Decode(data); err != nil {
		return fmt.Errorf("%s is not a valid redo log: %w", path, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var body io.Reader = bytes.NewReader(data)
	var bar *output.ProgressBar
	if interactive(c) {
		bar = output.NewProgressBar(c.App.ErrWriter, hash.Short())
		bar.SetTotal(int64(len(data)))
		body = bar.Reader(body)
	}

	resp, err := newClient(c).PutRaw(ctx, "/v1/redo/"+hash.String(), body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if bar != nil {
		bar.Finish()
	}
	var result redoPutResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	return render(c, result)
}

func redoDecode(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return fmt.Errorf("missing file argument")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	log, err := redo.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	records := log.Records()
	rows := make([]recordRow, 0, len(records))
	for i, r := range records {
		rows = append(rows, recordRow{
			Seq:      i,
			Op:       r.Op.String(),
			Database: r.Database,
			Key:      r.Key,
			Args:     describeArgs(r),
		})
	}
	return render(c, rows)
}

// describeArgs summarizes the arguments of r on one line. Values are hex,
// truncated to keep the table readable.
func describeArgs(r redo.Record) string {
	var parts []string
	switch r.Op {
	case redo.OpLSet:
		parts = append(parts, fmt.Sprintf("index=%d", r.Index))
	case redo.OpLRemove:
		parts = append(parts, fmt.Sprintf("count=%d", r.Index))
	case redo.OpLInsert:
		where := "after"
		if r.Before {
			where = "before"
		}
		parts = append(parts, where+"="+shortHex(r.Pivot))
	}
	if len(r.Fields) > 0 {
		parts = append(parts, "fields="+strings.Join(r.Fields, ","))
	}
	for _, v := range r.Values {
		parts = append(parts, shortHex(v))
	}
	return strings.Join(parts, " ")
}

const maxHexBytes = 8

func shortHex(b []byte) string {
	if len(b) <= maxHexBytes {
		return "0x" + hex.EncodeToString(b)
	}
	return fmt.Sprintf("0x%s..(%d bytes)", hex.EncodeToString(b[:maxHexBytes]), len(b))
}
