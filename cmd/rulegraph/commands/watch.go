package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		input   string
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "watch <path>...",
		Short: "Rebuild rules when their documents change",
		Long: `Watch rule documents, or directories of them, and rebuild each rule
when its file changes. Build errors are reported without stopping the watch.
With records, every successful rebuild also evaluates them.`,
		Example: `  # Rebuild while editing, evaluating sample requests
  rulegraph watch rules/ -i samples.json

  # Expose rule metrics while watching
  rulegraph watch rules/ --metrics`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.close(context.Background())

			var records []engine.Record
			if input != "" {
				if records, err = readRecords(input, cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if metrics {
				if err := env.tel.StartMetricsServer(ctx); err != nil {
					return err
				}
			}

			if err := env.watchPolicies(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				if config.IsDocumentFile(path) {
					buildAndPrint(ctx, env, out, path, records)
				}
			}

			watcher := config.NewWatcher(env.loader, env.logger, config.DefaultDebounce)
			return watcher.Watch(ctx, args, func(path string, doc *engine.Document, err error) {
				if err != nil {
					fmt.Fprintf(out, "FAIL  %s: %s\n", path, err)
					return
				}
				rule, err := engine.Build(ctx, doc, env.catalog, env.buildOptions(ruleName(path))...)
				if err != nil {
					env.tel.Metrics.RecordError(err)
					fmt.Fprintf(out, "FAIL  %s: %s\n", path, err)
					return
				}
				printRebuilt(ctx, out, path, rule, records)
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "records evaluated after each rebuild")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while watching")
	return cmd
}

// watchPolicies swaps in the policy files of the settings whenever they
// change. Rules are checked against the new set on their next rebuild.
func (env *environment) watchPolicies(ctx context.Context) error {
	ps := env.settings.Policies
	if env.policies == nil || len(ps.Paths) == 0 {
		return nil
	}
	return policy.NewLoader(env.logger).Watch(ctx, ps.Paths, func(loaded []policy.Policy) error {
		if ps.Builtins {
			loaded = append(policy.BuiltinPolicies(), loaded...)
		}
		return env.policies.Replace(ctx, loaded)
	})
}

func buildAndPrint(ctx context.Context, env *environment, out io.Writer, path string, records []engine.Record) {
	rule, err := env.build(ctx, path)
	if err != nil {
		fmt.Fprintf(out, "FAIL  %s: %s\n", path, err)
		return
	}
	printRebuilt(ctx, out, path, rule, records)
}

func printRebuilt(ctx context.Context, out io.Writer, path string, rule *engine.Rule, records []engine.Record) {
	fmt.Fprintf(out, "ok    %s (version %s)\n", path, rule.Version())
	if len(records) == 0 {
		return
	}
	outcomes, err := rule.Execute(ctx, records)
	if err != nil {
		fmt.Fprintf(out, "      execution failed: %s\n", err)
		return
	}
	for i, o := range outcomes {
		msg := ""
		if o.Message != nil {
			msg = *o.Message
		}
		fmt.Fprintf(out, "      [%d] %v %s\n", i, o.Output, msg)
	}
}
