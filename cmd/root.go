// Package cmd defines and implements the CLI commands for the stager executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "stager",
		Short: "Stages crawled documentation records into a search index.",
		Long: `stager takes the records a documentation crawler extracted, post-processes
them (host rewrite, pagerank boosts, attribute removal, size ceiling) and
uploads them to a temporary index. Only when every page and synonym has been
written is the temporary index moved over the live one, so searches never see
a partial crawl.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, JSON or TOML); environment variables override it")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "stager: %v\n", err)
		os.Exit(1)
	}
}
