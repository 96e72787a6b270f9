package paypipe

import (
	"context"
	"fmt"
	"strings"

	"paypipe/internal/apps/common"
	"paypipe/internal/apps/common/batch"
	"paypipe/internal/apps/common/commands"
	"paypipe/internal/di"
	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/ui"

	"github.com/spf13/cobra"
)

type runOptions struct {
	file         string
	id           string
	account      string
	amount       string
	currency     string
	txnType      string
	merchant     string
	merchantName string
	set          []string
	interactive  bool
}

func NewRunCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one transaction through the pipeline",
		Long: `Create a pending transaction and run it through every configured stage.

The transaction is read from --file (YAML or JSON, a single object) or built
from flags. Context keys are passed with --set key=value, for example:

  paypipe run --account acc-1 --amount 50 --currency MYR --type offline \
    --set tokenOperation=generateToken --set expiryHours=12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			return base.ExecuteWithContext(func(ctx context.Context) error {
				in, err := opts.input(cmd, base)
				if err != nil {
					return err
				}
				return submitAndReport(ctx, base, in)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the transaction from a YAML or JSON file")
	cmd.Flags().StringVar(&opts.id, "id", "", "Transaction ID (generated when empty)")
	cmd.Flags().StringVar(&opts.account, "account", "", "Payer account ID")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "Amount as a decimal string")
	cmd.Flags().StringVar(&opts.currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&opts.txnType, "type", string(domain.TypePayment), "Transaction type (payment, transfer, refund, offline)")
	cmd.Flags().StringVar(&opts.merchant, "merchant", "", "Merchant ID")
	cmd.Flags().StringVar(&opts.merchantName, "merchant-name", "", "Merchant name")
	cmd.Flags().StringArrayVar(&opts.set, "set", nil, "Processing context entry as key=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Pick the token operation interactively")

	return cmd
}

func (o *runOptions) input(cmd *cobra.Command, base *commands.BaseCommand) (batch.TransactionInput, error) {
	var in batch.TransactionInput
	if o.file != "" {
		inputs, err := batch.ReadTransactions(o.file)
		if err != nil {
			return in, err
		}
		if len(inputs) != 1 {
			return in, errors.Validationf("%s holds %d transactions, use the batch command", o.file, len(inputs))
		}
		in = inputs[0]
	} else {
		if err := base.ValidateRequiredFlags(cmd, []string{"account", "amount", "currency"}); err != nil {
			return in, err
		}
		in = batch.TransactionInput{
			ID:           o.id,
			AccountID:    o.account,
			Amount:       o.amount,
			Currency:     o.currency,
			Type:         o.txnType,
			MerchantID:   o.merchant,
			MerchantName: o.merchantName,
		}
	}

	entries, err := ParseSetFlags(o.set)
	if err != nil {
		return in, err
	}
	if len(entries) > 0 && in.Context == nil {
		in.Context = make(map[string]any, len(entries))
	}
	for k, v := range entries {
		in.Context[k] = v
	}

	if o.interactive {
		if !ui.IsInteractive() {
			return in, errors.Validation("--interactive needs a terminal")
		}
		if err := pickTokenOperation(&in); err != nil {
			return in, err
		}
	}
	return in, nil
}

func pickTokenOperation(in *batch.TransactionInput) error {
	choice, err := ui.PickTokenOperation()
	if err != nil {
		return err
	}
	if choice.Operation == "" {
		return nil
	}
	if in.Context == nil {
		in.Context = map[string]any{}
	}
	in.Context[domain.KeyTokenOperation] = choice.Operation
	if choice.NeedsToken {
		token, err := ui.PromptToken()
		if err != nil {
			return err
		}
		in.Context[domain.KeyToken] = token
	}
	return nil
}

// ParseSetFlags splits repeated key=value flags
func ParseSetFlags(values []string) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Validationf("invalid --set %q, expected key=value", v)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func submitAndReport(ctx context.Context, base *commands.BaseCommand, in batch.TransactionInput) error {
	processor := batch.NewProcessor(base.Clients.Orchestrator, base.Clients.Transactions, 1, base.Logger)
	result, err := processor.Submit(ctx, in)
	if err != nil {
		return err
	}
	if err := base.HandlePipelineResult(result); err != nil {
		return err
	}
	for _, key := range []string{domain.KeyFxRate, domain.KeyRiskScore, domain.KeyRiskLevel, domain.KeyRiskAction, domain.KeyToken} {
		if v, ok := result.Context.Get(key); ok {
			fmt.Fprintf(base.Out, "  %s: %v\n", key, v)
		}
	}
	return nil
}
