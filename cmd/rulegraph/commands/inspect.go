package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
)

type nodeReport struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Kind      string         `json:"kind"`
	Generated bool           `json:"generated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type inspectReport struct {
	Rule    string                    `json:"rule"`
	Version string                    `json:"version"`
	Order   []string                  `json:"order"`
	Nodes   []nodeReport              `json:"nodes"`
	Records []engine.NormalizedRecord `json:"records,omitempty"`
	Error   *engine.RuleError         `json:"error,omitempty"`
}

func newInspectCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "inspect <rule>",
		Short: "Describe a rule and trace records through it",
		Long: `Describe every node of a rule with its decoded metadata. With records,
evaluate them and print one normalized record per row: the request values,
the value of every node connector and which nodes the row reached.

A failing execution is still printed with the error attached.`,
		Example: `  # Trace a single request
  echo '{"age": 17}' | rulegraph inspect rules/adult.json -i -`,
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

			report := inspectReport{
				Rule:    rule.Name(),
				Version: rule.Version(),
				Order:   rule.ExecutionOrder(),
				Nodes:   describeNodes(rule),
			}

			if input != "" {
				records, err := readRecords(input, cmd.InOrStdin())
				if err != nil {
					return err
				}
				exec, err := rule.ExecuteDebug(ctx, records)
				if err != nil {
					var re *engine.RuleError
					if !errors.As(err, &re) {
						return err
					}
					report.Error = re
				}
				if exec != nil {
					report.Records = exec.Normalize()
				}
			}

			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "records file, - for stdin")
	return cmd
}

func describeNodes(rule *engine.Rule) []nodeReport {
	reg := rule.Registry()
	ids := reg.IDs()
	engine.SortNodeIDs(ids)

	out := make([]nodeReport, 0, len(ids))
	for _, id := range ids {
		node, _ := reg.Get(id)
		nr := nodeReport{
			ID:        id,
			Type:      node.Type(),
			Kind:      string(node.Kind()),
			Generated: reg.IsGenerated(id),
		}
		if mc, ok := node.(engine.MetadataCarrier); ok {
			if md, ok := mc.Metadata().(nodes.Metadata); ok {
				nr.Metadata = nodes.Describe(md)
			}
		}
		out = append(out, nr)
	}
	return out
}
