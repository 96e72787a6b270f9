package paypipe

import (
	"context"
	"fmt"

	"paypipe/internal/apps/common"
	"paypipe/internal/apps/common/commands"
	"paypipe/internal/config"
	"paypipe/internal/di"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/ui"
	"paypipe/internal/utils"

	"github.com/spf13/cobra"
)

func NewAuditCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "audit [transaction-id-or-file]",
		Short: "Show the stage execution history of a transaction",
		Long: `List every stage execution recorded for a transaction in the order it
was written. A file path is read as one transaction ID per line.
With the datadog audit sink, --open shows the records in the Datadog log explorer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			txnID := args[0]

			if open {
				if clients.Config.Audit.Sink != config.SinkDatadog {
					return base.ReportError(fmt.Errorf("--open needs the datadog audit sink, configured sink is %s", clients.Config.Audit.Sink))
				}
				link := clients.Datadog.ExplorerURL(clients.AuditQuery(txnID))
				base.PrintInfo("Opening %s", ui.CreateHyperlink(link, "Datadog logs"))
				return base.ReportError(ui.OpenURL(link))
			}

			ids := []string{txnID}
			if utils.IsFilePath(txnID) {
				var err error
				if ids, err = utils.ReadIDsFromFile(txnID); err != nil {
					return base.ReportError(err)
				}
				base.PrintInfo("Reading audit history for %d transactions from %s", len(ids), txnID)
			}

			return base.ExecuteWithContext(func(ctx context.Context) error {
				for _, id := range ids {
					if err := printHistory(ctx, base, clients, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&open, "open", false, "Open the records in the Datadog log explorer")

	return cmd
}

func printHistory(ctx context.Context, base *commands.BaseCommand, clients *di.ClientSet, txnID string) error {
	records, err := clients.Audit.History(ctx, txnID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		base.PrintInfo("No audit records for %s", txnID)
		return nil
	}
	base.PrintInfo("Audit history for %s (%d records)", txnID, len(records))
	for _, rec := range records {
		fmt.Fprintln(base.Out, formatRecord(rec))
	}
	return nil
}

func formatRecord(rec domain.StageExecutionRecord) string {
	line := fmt.Sprintf("  %s  %-14s %-8s %s", rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), rec.Stage, rec.Outcome, rec.Duration)
	if rec.Error != "" {
		line += "  " + ui.TruncateText(rec.Error, 80)
	}
	return line
}
