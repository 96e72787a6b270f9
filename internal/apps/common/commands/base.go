package commands

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"paypipe/internal/apps/common"
	"paypipe/internal/di"
	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/service"

	"github.com/spf13/cobra"
)

// BaseCommand provides common functionality for all commands
type BaseCommand struct {
	AppCtx  *common.Context
	Clients *di.ClientSet
	Logger  *logging.Logger
	Out     io.Writer
}

// NewBaseCommand creates a new base command
func NewBaseCommand(appCtx *common.Context, clients *di.ClientSet) *BaseCommand {
	return &BaseCommand{
		AppCtx:  appCtx,
		Clients: clients,
		Logger:  logging.NewDefaultLogger(fmt.Sprintf("%s-cmd", appCtx.Environment)),
		Out:     os.Stdout,
	}
}

// ReportError logs err with its typed context and returns it for cobra
func (bc *BaseCommand) ReportError(err error) error {
	if err == nil {
		return nil
	}

	var pipelineErr *errors.PipelineError
	if stderrors.As(err, &pipelineErr) {
		bc.Logger.Error("%s: %s", pipelineErr.Type, pipelineErr.Message)
		if len(pipelineErr.Context) > 0 {
			bc.Logger.Debug("Error context: %+v", pipelineErr.Context)
		}
		if pipelineErr.Cause != nil {
			bc.Logger.Debug("Caused by: %v", pipelineErr.Cause)
		}
	} else {
		bc.Logger.Error("Unexpected error: %v", err)
	}
	return err
}

// ExecuteWithContext runs fn with a context cancelled on SIGINT or SIGTERM
func (bc *BaseCommand) ExecuteWithContext(fn func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bc.ReportError(fn(ctx))
}

// ValidateRequiredFlags validates that required flags are provided
func (bc *BaseCommand) ValidateRequiredFlags(cmd *cobra.Command, required []string) error {
	for _, flag := range required {
		if value, _ := cmd.Flags().GetString(flag); value == "" {
			return errors.Validation(fmt.Sprintf("required flag --%s not provided", flag))
		}
	}
	return nil
}

// HandlePipelineResult prints a run and turns a failed run into an error
func (bc *BaseCommand) HandlePipelineResult(result *service.PipelineResult) error {
	if result == nil {
		return errors.Internal("received nil pipeline result")
	}

	bc.PrintInfo("Transaction %s -> %s (%s)", result.Transaction.ID, result.Transaction.Status, result.Duration)
	for _, run := range result.Stages {
		line := fmt.Sprintf("  %-14s %-8s", run.Name, run.Outcome)
		if run.Action != "" {
			line += " " + run.Action
		}
		if run.Err != nil {
			line += " " + run.Err.Error()
		}
		fmt.Fprintln(bc.Out, line)
	}
	for _, err := range result.AuditErrors {
		bc.Logger.Warn("Audit write failed: %v", err)
	}

	if result.Cancelled {
		return errors.Cancelled("pipeline run", context.Canceled)
	}
	if halted, ok := result.HaltedAt(); ok {
		return fmt.Errorf("halted at %s: %w", halted.Name, unwrapStage(halted.Err))
	}
	if !result.Success && len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return nil
}

// unwrapStage strips the "<stage>: " prefix the orchestrator adds
func unwrapStage(err error) error {
	if inner := stderrors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

// PrintSuccess prints a success message with consistent formatting
func (bc *BaseCommand) PrintSuccess(message string, args ...any) {
	fmt.Fprintf(bc.Out, "%s%s\n", bc.AppCtx.GetPrefix(), fmt.Sprintf(message, args...))
}

// PrintInfo prints an info message with consistent formatting
func (bc *BaseCommand) PrintInfo(message string, args ...any) {
	fmt.Fprintf(bc.Out, "%s%s\n", bc.AppCtx.GetPrefix(), fmt.Sprintf(message, args...))
}
