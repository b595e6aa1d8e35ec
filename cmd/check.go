package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docsearch-stager/internal/config"
	"github.com/JakeFAU/docsearch-stager/internal/indexdef"
	"github.com/JakeFAU/docsearch-stager/internal/logging"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
)

// newCheckCmd creates the 'check' subcommand. It resolves the configuration the
// way a run would and prints the result, so malformed settings show up as
// warnings before anything is uploaded.
func newCheckCmd(root *rootOptions) *cobra.Command {
	var definition string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print the resolved record rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			resolved := rules.Resolve(cfg.RulesRaw(), logger.Named("rules"))
			printRules(cmd.OutOrStdout(), cfg, resolved)

			if definition == "" {
				return nil
			}
			def, err := indexdef.ReadFile(definition)
			if err != nil {
				return fmt.Errorf("load definition: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "definition: %d settings, %d query rules, %d synonyms\n",
				len(def.Settings), len(def.QueryRules), len(def.Synonyms))
			return nil
		},
	}
	cmd.Flags().StringVar(&definition, "definition", "", "also parse this index definition")
	return cmd
}

func printRules(w io.Writer, cfg config.Config, r rules.Rules) {
	fmt.Fprintf(w, "index: %s (staging %s, backend %s, chunk size %d)\n",
		cfg.Index.Name, cfg.Index.TmpName, cfg.Index.Backend, cfg.Index.ChunkSize)

	fmt.Fprintf(w, "pagerank rules: %d\n", len(r.PagerankRules))
	for _, rule := range r.PagerankRules {
		fmt.Fprintf(w, "  %s =~ %s: +%g\n", rule.Field, rule.Pattern, rule.PageRank)
	}

	fmt.Fprintf(w, "attributes to remove: %d\n", len(r.AttributesToRemove))
	for _, pattern := range r.AttributesToRemove {
		fmt.Fprintf(w, "  %s\n", pattern)
	}

	if r.HostRewrite == nil {
		fmt.Fprintln(w, "host rewrite: none")
	} else {
		fmt.Fprintf(w, "host rewrite: %s -> %s\n", r.HostRewrite.LocalURL, r.HostRewrite.OverrideURL)
	}

	if r.MaxBytesPerRecord == 0 {
		fmt.Fprintln(w, "max bytes per record: unbounded")
	} else {
		fmt.Fprintf(w, "max bytes per record: %d\n", r.MaxBytesPerRecord)
	}
	fmt.Fprintf(w, "show records: %t\n", r.ShowRecords)
}
