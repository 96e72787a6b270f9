package paypipe

import (
	"context"
	"fmt"

	"paypipe/internal/apps/common"
	"paypipe/internal/apps/common/batch"
	"paypipe/internal/apps/common/commands"
	"paypipe/internal/di"

	"github.com/spf13/cobra"
)

func NewBatchCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var workers int
	var noResults bool

	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Run every transaction in a file through the pipeline",
		Long: `Run a YAML or JSON list of transactions through the pipeline concurrently.
Each transaction is processed by one worker from start to finish. Results are
written next to the input as <file>_results.yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			return base.ExecuteWithContext(func(ctx context.Context) error {
				return runBatch(ctx, base, args[0], workers, !noResults)
			})
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", clients.Config.Pipeline.BatchWorkers, "Number of concurrent pipeline runs")
	cmd.Flags().BoolVar(&noResults, "no-results", false, "Print results instead of writing the results file")

	return cmd
}

func runBatch(ctx context.Context, base *commands.BaseCommand, path string, workers int, writeFile bool) error {
	inputs, err := batch.ReadTransactions(path)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		base.PrintInfo("No transactions found in %s", path)
		return nil
	}

	base.PrintInfo("Processing %d transactions from %s with %d workers", len(inputs), path, workers)
	processor := batch.NewProcessor(base.Clients.Orchestrator, base.Clients.Transactions, workers, base.Logger)
	outcomes := processor.Process(ctx, inputs)

	succeeded, failed := batch.Counts(outcomes)
	if writeFile {
		outputPath, err := batch.WriteOutcomesFile(path, outcomes)
		if err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		base.PrintSuccess("Results written to %s", outputPath)
	} else if err := batch.WriteOutcomes(base.Out, outcomes); err != nil {
		return err
	}
	base.PrintInfo("Succeeded: %d, Failed: %d", succeeded, failed)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
