package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

type validationReport struct {
	Path    string   `json:"path"`
	Valid   bool     `json:"valid"`
	Version string   `json:"version,omitempty"`
	Orphans []string `json:"orphans,omitempty"`
	Class   string   `json:"class,omitempty"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rule>...",
		Short: "Validate rule documents",
		Long: `Validate rule documents by building them.

This command checks:
  - Document syntax and graph schema conformance
  - Node metadata
  - Declared versions against the content hash
  - A single start node, no cycles, unique input names
  - Policy compliance (OPA/rego) when policies are enabled`,
		Example: `  # Validate a rule
  rulegraph validate rules/credit.json

  # Validate several rules with settings
  rulegraph validate -c rulegraph.yaml rules/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			reports := make([]validationReport, 0, len(args))
			failed := 0
			for _, path := range args {
				report := validationReport{Path: path}
				op := telemetry.StartOperation(env.tel.WithContext(ctx), "validate", telemetry.AttrRuleSource.String(path))
				rule, err := env.build(op.Ctx, path)
				op.End(err)
				if err != nil {
					failed++
					report.Error = err.Error()
					var re *engine.RuleError
					if errors.As(err, &re) {
						report.Class = string(re.Class)
						report.Code = re.Code
					}
				} else {
					report.Valid = true
					report.Version = rule.Version()
					report.Orphans = rule.Orphans()
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					if r.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "ok    %s (version %s)\n", r.Path, r.Version)
						for _, id := range r.Orphans {
							fmt.Fprintf(cmd.OutOrStdout(), "      unreachable node %s\n", id)
						}
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s\n", r.Path, r.Error)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d rules failed validation", failed, len(args))
			}
			return nil
		},
	}
	return cmd
}
