package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/relaymesh-go/internal/cli/output"
	"github.com/yndnr/relaymesh-go/internal/infra/confloader"
	"github.com/yndnr/relaymesh-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the merged configuration with secrets masked (yaml unless -o is given)",
				Action: configShow,
			},
			{
				Name:   "check",
				Usage:  "Validate the merged configuration",
				Action: configCheck,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, err := readConfig(c.String("config"))
	if err != nil {
		return err
	}
	m, err := confloader.Export(config.Sanitize(cfg))
	if err != nil {
		return err
	}

	format := output.FormatYAML
	if c.IsSet("output") {
		format = output.Format(c.String("output"))
	}
	return output.NewFormatter(format).Format(c.App.Writer, m)
}

func configCheck(c *cli.Context) error {
	path := c.String("config")
	if _, err := loadConfig(path); err != nil {
		return err
	}
	if path == "" {
		path = "defaults and environment"
	}
	fmt.Fprintf(c.App.Writer, "configuration OK (%s)\n", path)
	return nil
}
