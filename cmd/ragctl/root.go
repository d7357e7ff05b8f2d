package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grantdraft/grantdraft/internal/app"
	"github.com/grantdraft/grantdraft/pkg/config"
)

// cli carries what the subcommands share. load is replaced in tests. The
// app is opened before a subcommand runs; execute closes it afterwards.
type cli struct {
	configPath string
	jsonOut    bool
	load       func(path string) (*config.Config, error)
	app        *app.App
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "ragctl",
		Short:        "Inspect and maintain the grant reference index",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("GRANTDRAFT_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		c.searchCmd(),
		c.namespacesCmd(),
		c.statsCmd(),
		c.contentCmd(),
		c.sectionCmd(),
		c.deleteCmd(),
		c.ownersCmd(),
	)
	return root
}

func (c *cli) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := c.load(c.configPath)
	if err != nil {
		return err
	}
	// Diagnostics go to stderr so that --json output stays parseable.
	c.app, err = app.Build(ctx, cfg, cfg.NewLogger(os.Stderr))
	return err
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close(context.Background())
	c.app = nil
	return err
}

func (c *cli) printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
