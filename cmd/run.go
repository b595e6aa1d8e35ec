package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docsearch-stager/internal/config"
	"github.com/JakeFAU/docsearch-stager/internal/indexdef"
	"github.com/JakeFAU/docsearch-stager/internal/server"
)

type runOptions struct {
	definition string
	pages      []string
	dryRun     bool
}

// newRunCmd creates the 'run' subcommand, which stages one crawl and promotes
// it.
func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stage pages into a temporary index and promote it",
		Long: `Reads page documents ({"url", "records", "from_sitemap"}) from every --pages
location in order, stages their records, uploads the definition's synonyms and
moves the temporary index over the live one. Any failure, or SIGINT/SIGTERM,
leaves the live index untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.definition, "definition", "", "index definition with settings, query rules and synonyms (YAML or JSONC)")
	cmd.Flags().StringArrayVar(&opts.pages, "pages", nil, "page file, gs:// object, or - for stdin; .zst is decompressed; repeatable")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "stage into an in-memory index instead of the configured backend")
	_ = cmd.MarkFlagRequired("pages")
	return cmd
}

func runStage(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := config.Read(root.configPath)
	if err != nil {
		return err
	}
	if opts.dryRun {
		cfg.Index.Backend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	def := &indexdef.Definition{}
	if opts.definition != "" {
		def, err = indexdef.ReadFile(opts.definition)
		if err != nil {
			return fmt.Errorf("load definition: %w", err)
		}
	}

	app, err := server.Build(cmd.Context(), &cfg, server.Options{
		Echo:  cmd.OutOrStdout(),
		Stdin: cmd.InOrStdin(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

	run, err := app.Run(cmd.Context(), server.RunInput{Definition: def, Pages: opts.pages})
	if err != nil {
		if run.ID != "" {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s promoted %s: %d pages, %d records (%d oversized), %d synonyms\n",
		run.ID, run.LiveIndex,
		run.Counters.Pages, run.Counters.RecordsAccepted, run.Counters.RecordsOversized, run.Counters.Synonyms,
	)
	return nil
}
