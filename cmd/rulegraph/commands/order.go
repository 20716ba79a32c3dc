package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newOrderCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "order <rule>",
		Short: "Print the execution order of a rule",
		Long: `Print the order in which a rule evaluates its nodes, one node per line,
or the whole graph in Graphviz DOT with nodes numbered by that order.`,
		Example: `  # Render the graph
  rulegraph order rules/credit.json --format dot | dot -Tsvg > credit.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			rule, err := env.build(ctx, args[0])
			if err != nil {
				return err
			}

			switch format {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), rule.ToDOT())
				return nil
			case "text":
			default:
				return fmt.Errorf("unsupported format: %s (must be 'text' or 'dot')", format)
			}

			order := rule.ExecutionOrder()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"order":   order,
					"orphans": rule.Orphans(),
				})
			}
			for i, id := range order {
				node, _ := rule.Registry().Get(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-12s %s\n", i+1, id, node.Type())
			}
			if orphans := rule.Orphans(); len(orphans) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "unreachable: %s\n", strings.Join(orphans, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, dot)")
	return cmd
}
