package stages

import (
	"context"
	"fmt"

	"paypipe/internal/config"
	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"

	"github.com/shopspring/decimal"
)

// Rate lookup methods, in the order they are attempted
const (
	RateIdentity     = "identity"
	RateDirect       = "direct"
	RateReciprocal   = "reciprocal"
	RateTriangulated = "triangulated"
)

const reciprocalPrecision = 10

// RateQuote is a resolved exchange rate and how it was found
type RateQuote struct {
	From   string
	To     string
	Rate   decimal.Decimal
	Method string
	Via    string
}

// FXConverter converts foreign-currency transactions into the target currency
type FXConverter struct {
	baseStage
	rates   ports.RateSource
	txns    ports.TransactionStore
	base    string
	hub     string
	feeRate decimal.Decimal
	logger  *logging.Logger
}

// NewFXConverter creates the currency conversion stage
func NewFXConverter(cfg config.FXConfig, deps Dependencies) (*FXConverter, error) {
	if deps.Rates == nil || deps.Transactions == nil {
		return nil, errors.Configuration("fx converter requires a rate source and a transaction store")
	}
	return &FXConverter{
		baseStage: baseStage{
			name:        config.StageFXConverter,
			version:     "1.2.0",
			description: "Converts the transaction amount into the target currency and computes the FX fee",
		},
		rates:   deps.Rates,
		txns:    deps.Transactions,
		base:    cfg.BaseCurrency,
		hub:     cfg.HubCurrency,
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		logger:  deps.logger("fx"),
	}, nil
}

func (f *FXConverter) IsEnabled(txn domain.Transaction, pctx *domain.ProcessingContext) bool {
	return txn.Currency != f.base || pctx.Bool(domain.KeyForceConversion)
}

// IsCritical makes conversion failures fatal for foreign-currency
// transactions unless the caller allowed FX failure
func (f *FXConverter) IsCritical(txn domain.Transaction, pctx *domain.ProcessingContext) bool {
	return txn.Currency != f.base && !pctx.Bool(domain.KeyAllowFxFailure)
}

func (f *FXConverter) targetCurrency(pctx *domain.ProcessingContext) string {
	if target := pctx.String(domain.KeyTargetCurrency); target != "" {
		return target
	}
	return f.base
}

func (f *FXConverter) Process(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	target := f.targetCurrency(pctx)
	if !domain.IsCurrencyCode(target) {
		return nil, errors.Validationf("invalid target currency %q", target)
	}

	if txn.Currency == f.base && !pctx.Bool(domain.KeyForceConversion) {
		return &domain.StageResult{
			Success: true,
			Action:  "skipped",
			Payload: map[string]any{
				"rate":            decimal.NewFromInt(1).String(),
				"convertedAmount": txn.Amount.String(),
				"currency":        txn.Currency,
			},
		}, nil
	}

	quote, err := f.ResolveRate(ctx, txn.Currency, target)
	if err != nil {
		return nil, err
	}

	converted := txn.Amount.Mul(quote.Rate).Round(2)

	baseValue, err := f.baseValue(ctx, txn, target, converted)
	if err != nil {
		return nil, err
	}
	fee := baseValue.Mul(f.feeRate).Round(2)

	if err := f.txns.UpdateConversion(ctx, txn.ID, converted, target); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, "failed to persist conversion")
	}

	f.logger.Debug("txn=%s %s %s -> %s %s via %s (rate %s, fee %s %s)",
		txn.ID, txn.Amount, txn.Currency, converted, target, quote.Method, quote.Rate, fee, f.base)

	txnPatch := (&domain.TransactionPatch{}).
		WithConversion(converted, target).
		WithMetadata("fxRate", quote.Rate.String()).
		WithMetadata("fxRateMethod", quote.Method).
		WithMetadata("fxFee", fee.String()).
		WithMetadata("fxFeeCurrency", f.base)

	ctxPatch := (&domain.ContextPatch{}).
		Set(domain.KeyFxRate, quote.Rate).
		Set(domain.KeyFxFee, fee)

	payload := map[string]any{
		"from":            quote.From,
		"to":              quote.To,
		"rate":            quote.Rate.String(),
		"method":          quote.Method,
		"convertedAmount": converted.String(),
		"fee":             fee.String(),
		"feeCurrency":     f.base,
	}
	if quote.Via != "" {
		payload["via"] = quote.Via
	}

	return &domain.StageResult{
		Success:          true,
		Action:           "converted",
		Payload:          payload,
		TransactionPatch: txnPatch,
		ContextPatch:     ctxPatch,
	}, nil
}

// baseValue expresses the transaction amount in the base currency for the fee
func (f *FXConverter) baseValue(ctx context.Context, txn domain.Transaction, target string, converted decimal.Decimal) (decimal.Decimal, error) {
	switch f.base {
	case txn.Currency:
		return txn.Amount, nil
	case target:
		return converted, nil
	}
	quote, err := f.ResolveRate(ctx, txn.Currency, f.base)
	if err != nil {
		return decimal.Zero, err
	}
	return txn.Amount.Mul(quote.Rate), nil
}

// ResolveRate finds the from->to rate: direct quote, reciprocal of the
// reverse quote, then triangulation through the hub currency.
func (f *FXConverter) ResolveRate(ctx context.Context, from, to string) (RateQuote, error) {
	quote := RateQuote{From: from, To: to}
	if from == to {
		quote.Rate = decimal.NewFromInt(1)
		quote.Method = RateIdentity
		return quote, nil
	}

	rate, method, found, err := f.leg(ctx, from, to)
	if err != nil {
		return quote, err
	}
	if found {
		quote.Rate = rate
		quote.Method = method
		return quote, nil
	}

	if from != f.hub && to != f.hub {
		first, _, ok1, err := f.leg(ctx, from, f.hub)
		if err != nil {
			return quote, err
		}
		second, _, ok2, err := f.leg(ctx, f.hub, to)
		if err != nil {
			return quote, err
		}
		if ok1 && ok2 {
			quote.Rate = first.Mul(second)
			quote.Method = RateTriangulated
			quote.Via = f.hub
			return quote, nil
		}
	}

	return quote, errors.RateUnavailable(from, to)
}

// leg resolves a single hop from a direct or reciprocal quote
func (f *FXConverter) leg(ctx context.Context, from, to string) (decimal.Decimal, string, bool, error) {
	rate, ok, err := f.rates.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, "", false, errors.External("rate source", fmt.Errorf("%s->%s: %w", from, to, err))
	}
	if ok && rate.IsPositive() {
		return rate, RateDirect, true, nil
	}

	reverse, ok, err := f.rates.Rate(ctx, to, from)
	if err != nil {
		return decimal.Zero, "", false, errors.External("rate source", fmt.Errorf("%s->%s: %w", to, from, err))
	}
	if ok && reverse.IsPositive() {
		return decimal.NewFromInt(1).DivRound(reverse, reciprocalPrecision), RateReciprocal, true, nil
	}
	return decimal.Zero, "", false, nil
}
