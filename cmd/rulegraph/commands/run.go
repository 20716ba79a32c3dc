package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

type runReport struct {
	Rule     string             `json:"rule"`
	Version  string             `json:"version"`
	Outcomes []engine.Outcome   `json:"outcomes"`
	Summary  *engine.RunSummary `json:"summary,omitempty"`
}

func newRunCommand() *cobra.Command {
	var (
		input     string
		chunkSize int
		parallel  int
		failFast  bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <rule>",
		Short: "Evaluate a rule over a batch of records",
		Long: `Evaluate a rule over records read as a JSON array (or a single JSON
object) and print one outcome per record.

With a chunk size the batch is split into chunks evaluated in parallel;
outcomes keep the order of the records.`,
		Example: `  # Evaluate records from a file
  rulegraph run rules/credit.json -i requests.json

  # Read records from stdin in chunks of 1000, 8 at a time
  cat requests.json | rulegraph run rules/credit.json --chunk-size 1000 --parallel 8`,
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
			records, err := readRecords(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			opts := env.settings.Scheduler.ScheduleOptions()
			if cmd.Flags().Changed("chunk-size") {
				opts.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("parallel") {
				opts.MaxParallel = parallel
			}
			if cmd.Flags().Changed("fail-fast") {
				opts.FailFast = failFast
			}
			if cmd.Flags().Changed("timeout") {
				opts.Timeout = timeout
			}

			ctx, span := env.tel.Tracer.StartBatchSpan(ctx, rule.Name(), len(records))
			defer span.End()
			span.SetAttributes(telemetry.AttrRuleVersion.String(rule.Version()))
			done := env.tel.Metrics.TrackActive()
			defer done()

			report := runReport{Rule: rule.Name(), Version: rule.Version()}
			if opts.ChunkSize > 0 {
				scheduler := engine.NewBatchScheduler(opts.MaxParallel, env.logger)
				outcomes, summary, err := scheduler.Run(ctx, rule, records, opts)
				env.tel.Metrics.RecordBatch(summary)
				if err != nil {
					telemetry.RecordError(span, err)
					return err
				}
				report.Outcomes = outcomes
				report.Summary = &summary
			} else {
				if opts.Timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
					defer cancel()
				}
				outcomes, err := rule.Execute(ctx, records)
				if err != nil {
					telemetry.RecordError(span, err)
					return err
				}
				report.Outcomes = outcomes
			}
			telemetry.RecordSuccess(span)

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeJSON(cmd.OutOrStdout(), report.Outcomes)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "records file, - for stdin")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "split the batch into chunks of this size")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum chunks evaluated at once")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "skip pending chunks after a failure")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "timeout per chunk")

	return cmd
}
