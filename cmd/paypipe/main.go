package main

import (
	"context"
	"os"

	"paypipe/internal/apps/common"
	cobraPkg "paypipe/internal/apps/common/cobra"
	paypipeCmd "paypipe/internal/apps/paypipe/commands"
	"paypipe/internal/di"
	"paypipe/internal/logging"
)

func main() {
	logger := logging.NewDefaultLogger("paypipe")

	// Create app context, loading config from PAYPIPE_CONFIG when set
	appCtx, err := common.NewContext("paypipe", os.Getenv(common.ConfigPathEnv))
	if err != nil {
		logger.Error("Failed to create app context: %v", err)
		os.Exit(1)
	}

	// Initialize dependency injection container
	container := di.NewContainer()
	if err := container.Initialize(context.Background(), appCtx.Config); err != nil {
		logger.Error("Failed to initialize services: %v", err)
		os.Exit(1)
	}

	rootCmd := cobraPkg.NewRootCommand(appCtx)
	rootCmd.AddCommand(paypipeCmd.GetCommands(appCtx, container.GetClientSet())...)

	err = rootCmd.Execute()
	container.Close()
	if err != nil {
		os.Exit(1)
	}
}
