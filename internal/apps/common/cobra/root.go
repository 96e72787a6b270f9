package cobra

import (
	"fmt"

	"paypipe/internal/apps/common"
	"paypipe/internal/buildinfo"

	"github.com/spf13/cobra"
)

func NewRootCommand(appCtx *common.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appCtx.BinaryName,
		Short: "Payment transaction pipeline",
		Long: `Runs payment transactions through FX conversion, risk scoring and offline token handling,
recording an audit entry for every stage reached.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Version:           buildinfo.Version,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Display the version of " + appCtx.BinaryName,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (Environment: %s)\n", appCtx.BinaryName, buildinfo.String(), appCtx.Environment)
		},
	})

	return rootCmd
}
