package paypipe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paypipe/internal/apps/common"
	"paypipe/internal/apps/common/batch"
	"paypipe/internal/apps/common/commands"
	"paypipe/internal/di"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/ui"

	"github.com/spf13/cobra"
)

func NewTokenCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage offline payment tokens",
		Long: `Generate, redeem, validate and cancel offline payment tokens.

Generate, redeem and cancel run a transaction through the pipeline so every
change is audited. Validate only reads the token.`,
	}

	cmd.AddCommand(
		newTokenGenerateCmd(appCtx, clients),
		newTokenRedeemCmd(appCtx, clients),
		newTokenValidateCmd(appCtx, clients),
		newTokenCancelCmd(appCtx, clients),
		newTokenSweepCmd(appCtx, clients),
	)
	return cmd
}

func newTokenGenerateCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var account, amount, currency, merchantType string
	var expiryHours int
	var allowed, blocked, restrictTypes []string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an offline token for a payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			if err := base.ValidateRequiredFlags(cmd, []string{"account", "amount"}); err != nil {
				return base.ReportError(err)
			}

			pctx := map[string]any{domain.KeyTokenOperation: domain.OpGenerateToken}
			if expiryHours > 0 {
				pctx[domain.KeyExpiryHours] = expiryHours
			}
			if merchantType != "" {
				pctx[domain.KeyMerchantType] = merchantType
			}
			if len(allowed) > 0 {
				pctx[domain.KeyAllowedMerchants] = allowed
			}
			if len(blocked) > 0 {
				pctx[domain.KeyBlockedMerchants] = blocked
			}
			if len(restrictTypes) > 0 {
				pctx[domain.KeyMerchantTypeRestriction] = restrictTypes
			}

			in := batch.TransactionInput{
				AccountID: account,
				Amount:    amount,
				Currency:  currency,
				Type:      string(domain.TypeOffline),
				Context:   pctx,
			}
			return base.ExecuteWithContext(func(ctx context.Context) error {
				return submitAndReport(ctx, base, in)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Owner account ID")
	cmd.Flags().StringVar(&amount, "amount", "", "Token amount")
	cmd.Flags().StringVar(&currency, "currency", clients.Config.FX.BaseCurrency, "Token currency")
	cmd.Flags().IntVar(&expiryHours, "expiry-hours", 0, "Hours until the token expires (default from config)")
	cmd.Flags().StringVar(&merchantType, "merchant-type", "", "Merchant type the token is issued for")
	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "Merchant IDs allowed to redeem")
	cmd.Flags().StringSliceVar(&blocked, "block", nil, "Merchant IDs that may never redeem")
	cmd.Flags().StringSliceVar(&restrictTypes, "restrict-types", nil, "Merchant types the token is limited to")

	return cmd
}

func newTokenRedeemCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var account, amount, currency, merchant, merchantType string

	cmd := &cobra.Command{
		Use:   "redeem [token]",
		Short: "Redeem an offline token at a merchant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			if err := base.ValidateRequiredFlags(cmd, []string{"account", "amount", "merchant"}); err != nil {
				return base.ReportError(err)
			}

			pctx := map[string]any{
				domain.KeyTokenOperation: domain.OpRedeemToken,
				domain.KeyToken:          strings.TrimSpace(args[0]),
			}
			if merchantType != "" {
				pctx[domain.KeyMerchantType] = merchantType
			}
			in := batch.TransactionInput{
				AccountID:  account,
				Amount:     amount,
				Currency:   currency,
				Type:       string(domain.TypeOffline),
				MerchantID: merchant,
				Context:    pctx,
			}
			return base.ExecuteWithContext(func(ctx context.Context) error {
				return submitAndReport(ctx, base, in)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Redeeming account ID")
	cmd.Flags().StringVar(&amount, "amount", "", "Payment amount, at most the token amount")
	cmd.Flags().StringVar(&currency, "currency", clients.Config.FX.BaseCurrency, "Payment currency")
	cmd.Flags().StringVar(&merchant, "merchant", "", "Merchant ID")
	cmd.Flags().StringVar(&merchantType, "merchant-type", "", "Merchant type")

	return cmd
}

func newTokenValidateCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var merchant, merchantType string

	cmd := &cobra.Command{
		Use:   "validate [token]",
		Short: "Check a token without changing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			return base.ExecuteWithContext(func(ctx context.Context) error {
				v, err := clients.TokenHandler.Validate(ctx, strings.TrimSpace(args[0]), merchant, merchantType)
				if err != nil {
					return err
				}
				values := map[string]any{
					"valid":           v.Valid,
					"exists":          v.Exists,
					"expired":         v.Expired,
					"used":            v.Used,
					"cancelled":       v.Cancelled,
					"merchantAllowed": v.MerchantAllowed,
					"merchantBlocked": v.MerchantBlocked,
				}
				keys := []string{"valid", "exists", "expired", "used", "cancelled", "merchantAllowed", "merchantBlocked"}
				base.PrintInfo("Token %s: %s", args[0], ui.FormatKV(keys, values))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&merchant, "merchant", "", "Check redemption by this merchant")
	cmd.Flags().StringVar(&merchantType, "merchant-type", "", "Merchant type")

	return cmd
}

func newTokenCancelCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	var account string
	var yes bool

	cmd := &cobra.Command{
		Use:   "cancel [token]",
		Short: "Cancel an active offline token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			tokenStr := strings.TrimSpace(args[0])

			return base.ExecuteWithContext(func(ctx context.Context) error {
				token, err := clients.Tokens.FindByToken(ctx, tokenStr)
				if err != nil {
					return err
				}
				if account == "" {
					account = token.Owner
				}

				if !yes && ui.IsInteractive() {
					ok, err := ui.Confirm(fmt.Sprintf("Cancel token %s for %s %s", token.Token, token.Amount, token.Currency))
					if err != nil {
						return err
					}
					if !ok {
						base.PrintInfo("Token %s left unchanged", token.Token)
						return nil
					}
				}

				in := batch.TransactionInput{
					AccountID: account,
					Amount:    "0",
					Currency:  token.Currency,
					Type:      string(domain.TypeOffline),
					Context: map[string]any{
						domain.KeyTokenOperation: domain.OpCancelToken,
						domain.KeyToken:          tokenStr,
					},
				}
				return submitAndReport(ctx, base, in)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account cancelling the token (defaults to the owner)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func newTokenSweepCmd(appCtx *common.Context, clients *di.ClientSet) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark active tokens past their expiry as expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := commands.NewBaseCommand(appCtx, clients)
			base.Out = cmd.OutOrStdout()
			return base.ExecuteWithContext(func(ctx context.Context) error {
				n, err := clients.Tokens.ExpireStale(ctx, time.Now())
				if err != nil {
					return err
				}
				base.PrintSuccess("Expired %d tokens", n)
				return nil
			})
		},
	}
}
