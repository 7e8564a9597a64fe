// Package command defines the relaymesh-server command line.
//
// The default action runs the leader, which re-executes the same binary
// with the hidden worker command for each worker process.
package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/relaymesh-go/internal/cli/output"
	"github.com/yndnr/relaymesh-go/internal/infra/buildinfo"
	"github.com/yndnr/relaymesh-go/internal/infra/confloader"
	"github.com/yndnr/relaymesh-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "relaymesh-server",
		Usage:   "Cluster coordination and notification fan-out server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			LeaderCommand(),
			WorkerCommand(),
			TokenCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Action: runLeader,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"RELAYMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
	}
}

// readConfig loads defaults, the file and the environment without
// validating the result.
func readConfig(path string) (*config.ServerConfig, error) {
	cfg := config.Default()
	opts := []confloader.Option{}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfig reads and validates the configuration.
func loadConfig(path string) (*config.ServerConfig, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// render writes data to the app writer in the selected output format.
func render(c *cli.Context, data any) error {
	f := output.NewFormatter(output.Format(c.String("output")))
	return f.Format(c.App.Writer, data)
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
