package command

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chainstate-go/internal/cli/connection"
	"github.com/yndnr/chainstate-go/internal/cli/output"
	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/infra/buildinfo"
	"github.com/yndnr/chainstate-go/internal/infra/tlsroots"
)

// DefaultServer is the address of a local chainstate-server.
const DefaultServer = "localhost:5090"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "chainstate-cli",
		Usage:   "Inspect and administer a chainstate server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			DumpCommand(),
			ViewCommand(),
			SnapshotCommand(),
			RedoCommand(),
			HeaderCommand(),
			SystemCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			if _, err := output.ParseFormat(c.String("output")); err != nil {
				return err
			}
			if ca := c.String("ca-cert"); ca != "" {
				tlsCfg, err := tlsroots.ClientConfig(ca)
				if err != nil {
					return fmt.Errorf("--ca-cert: %w", err)
				}
				if c.App.Metadata == nil {
					c.App.Metadata = make(map[string]any)
				}
				c.App.Metadata[tlsMetadataKey] = tlsCfg
			}
			return nil
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "chainstate server address (e.g., localhost:5090)",
			EnvVars: []string{"CHAINSTATE_SERVER"},
			Value:   DefaultServer,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:    "ca-cert",
			Usage:   "CA certificate file to verify an HTTPS server (implies https)",
			EnvVars: []string{"CHAINSTATE_CA_CERT"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server  string
	Output  output.Format
	Wide    bool
	Timeout time.Duration
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		format = output.FormatTable
	}
	return &GlobalFlags{
		Server:  c.String("server"),
		Output:  format,
		Wide:    c.Bool("wide"),
		Timeout: c.Duration("timeout"),
	}
}

const tlsMetadataKey = "tls"

// newClient returns an HTTP client for the --server address.
func newClient(c *cli.Context) *connection.HTTPClient {
	client := connection.NewHTTPClient(ParseGlobalFlags(c).Server)
	if tlsCfg, ok := c.App.Metadata[tlsMetadataKey].(*tls.Config); ok {
		client.SetTLSConfig(tlsCfg)
	}
	return client
}

// requestContext bounds a command's requests by --timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := ParseGlobalFlags(c).Timeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// render writes data to the app writer in the selected format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// interactive reports whether progress output belongs on stderr: only
// table output is meant for a terminal.
func interactive(c *cli.Context) bool {
	return ParseGlobalFlags(c).Output == output.FormatTable
}

// hashArg parses positional argument i as a block hash.
func hashArg(c *cli.Context, i int) (domain.BlockHash, error) {
	s := c.Args().Get(i)
	if s == "" {
		return domain.BlockHash{}, fmt.Errorf("missing block hash argument")
	}
	return domain.ParseBlockHash(s)
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			return render(c, buildinfo.Get())
		},
	}
}
