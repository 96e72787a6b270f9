package paypipe

import (
	"paypipe/internal/apps/common"
	"paypipe/internal/di"

	"github.com/spf13/cobra"
)

func GetCommands(appCtx *common.Context, clients *di.ClientSet) []*cobra.Command {
	return []*cobra.Command{
		NewRunCmd(appCtx, clients),
		NewBatchCmd(appCtx, clients),
		NewTokenCmd(appCtx, clients),
		NewAuditCmd(appCtx, clients),
		NewRatesCmd(appCtx, clients),
	}
}
