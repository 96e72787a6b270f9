package paypipe

import (
	"context"
	"strings"

	"paypipe/internal/apps/common"
	"paypipe/internal/apps/common/commands"
	"paypipe/internal/di"
	"paypipe/internal/pipeline/stages"

	"github.com/spf13/cobra"
)

func NewRatesCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	return &cobra.Command{
		Use:   "rates [from] [to]",
		Short: "Resolve the exchange rate between two currencies",
		Long: `Resolve a rate the way the fx converter does: a direct quote, the reciprocal
of the reverse quote, or a cross rate through the hub currency.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			return base.ExecuteWithContext(func(ctx context.Context) error {
				quote, err := clients.FX.ResolveRate(ctx, strings.ToUpper(args[0]), strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				if quote.Method == stages.RateTriangulated {
					base.PrintInfo("%s/%s = %s (%s via %s)", quote.From, quote.To, quote.Rate, quote.Method, quote.Via)
				} else {
					base.PrintInfo("%s/%s = %s (%s)", quote.From, quote.To, quote.Rate, quote.Method)
				}
				return nil
			})
		},
	}
}
