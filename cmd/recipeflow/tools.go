package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
	"github.com/fyrsmithlabs/recipeflow/internal/rules"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
	"github.com/fyrsmithlabs/recipeflow/internal/tools/arith"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	var showRules bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools and rule sets a plan may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			printTools(out, arith.Registry().DescribeAll())
			if !showRules {
				return nil
			}
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			store, err := rules.Open(cfg.Rules)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			printRuleSets(out, store)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showRules, "rulesets", false, "also list the rule-set catalog")
	return cmd
}

func printTools(w io.Writer, specs []tools.ToolSpec) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPARAMETERS\tDESCRIPTION")
	for _, s := range specs {
		params := make([]string, 0, len(s.Parameters))
		for _, p := range s.Parameters {
			params = append(params, p.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, strings.Join(params, ", "), s.Description)
	}
	_ = tw.Flush()
}

func printRuleSets(w io.Writer, store *rules.Store) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULESET\tDEFAULT\tDESCRIPTION")
	for _, rs := range store.Catalog().All() {
		def := ""
		if rs.Name == store.DefaultName() {
			def = "*"
		}
		desc := rs.Description
		if desc == "" {
			desc, _, _ = strings.Cut(strings.TrimSpace(rs.Text), "\n")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rs.Name, def, desc)
	}
	_ = tw.Flush()
}
