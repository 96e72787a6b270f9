package stages

import (
	"context"
	"fmt"
	"testing"

	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConverter(t *testing.T, f *fixture) *FXConverter {
	t.Helper()
	fx, err := NewFXConverter(f.cfg.FX, f.deps)
	require.NoError(t, err)
	return fx
}

func TestFXConverter_SelfConversionShortCircuits(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)
	txn := f.seed(t, newTxn("txn-1", "250.40", "MYR", domain.TypePayment))
	pctx := domain.NewProcessingContext()

	assert.False(t, fx.IsEnabled(txn, pctx))
	assert.False(t, fx.IsCritical(txn, pctx))

	res, err := fx.Process(context.Background(), txn, pctx)
	require.NoError(t, err)
	assert.Equal(t, "skipped", res.Action)
	assert.Nil(t, res.TransactionPatch)
	assert.Nil(t, res.ContextPatch)
	assert.Equal(t, "1", res.Payload["rate"])
	assert.Equal(t, "250.4", res.Payload["convertedAmount"])

	assert.Nil(t, f.stored(t, "txn-1").ConvertedAmount)
}

func TestFXConverter_ForcedConversionIsEnabled(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)
	txn := newTxn("txn-1", "10", "MYR", domain.TypePayment)

	assert.True(t, fx.IsEnabled(txn, domain.NewProcessingContext().Set(domain.KeyForceConversion, true)))
}

func TestFXConverter_DirectRate(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)
	txn := f.seed(t, newTxn("txn-1", "100", "USD", domain.TypePayment))

	res, err := fx.Process(context.Background(), txn, domain.NewProcessingContext())
	require.NoError(t, err)

	assert.Equal(t, "converted", res.Action)
	assert.Equal(t, RateDirect, res.Payload["method"])
	require.NotNil(t, res.TransactionPatch)
	assertDecimal(t, "472", *res.TransactionPatch.ConvertedAmount)
	assert.Equal(t, "MYR", *res.TransactionPatch.ConvertedCurrency)
	// 0.5% of the MYR value
	assert.Equal(t, "2.36", res.TransactionPatch.Metadata["fxFee"])

	stored := f.stored(t, "txn-1")
	require.NotNil(t, stored.ConvertedAmount)
	assertDecimal(t, "472", *stored.ConvertedAmount)
	assert.Equal(t, "MYR", stored.ConvertedCurrency)
}

func TestFXConverter_ReciprocalRate(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)
	txn := f.seed(t, newTxn("txn-1", "100", "MYR", domain.TypePayment))
	pctx := domain.NewProcessingContext().
		Set(domain.KeyForceConversion, true).
		Set(domain.KeyTargetCurrency, "USD")

	res, err := fx.Process(context.Background(), txn, pctx)
	require.NoError(t, err)

	assert.Equal(t, RateReciprocal, res.Payload["method"])
	assertDecimal(t, "21.19", *res.TransactionPatch.ConvertedAmount)
	// fee is taken on the base amount when converting out of the base currency
	assert.Equal(t, "0.5", res.TransactionPatch.Metadata["fxFee"])

	rate, ok := res.ContextPatch.Entries[0].Value.(decimal.Decimal)
	require.True(t, ok)
	assertDecimal(t, "0.2118644068", rate)
}

func TestFXConverter_Triangulation(t *testing.T) {
	rates := map[string]decimal.Decimal{
		"USD/EUR": decimal.RequireFromString("0.9"),
		"EUR/MYR": decimal.RequireFromString("5"),
	}

	tests := []struct {
		name    string
		missing string
		wantErr bool
	}{
		{name: "both legs present"},
		{name: "first leg missing", missing: "USD/EUR", wantErr: true},
		{name: "second leg missing", missing: "EUR/MYR", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.FX.HubCurrency = "EUR"
			f.deps.Rates = &mockRateSource{
				RateFunc: func(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
					key := from + "/" + to
					if key == tt.missing {
						return decimal.Zero, false, nil
					}
					r, ok := rates[key]
					return r, ok, nil
				},
			}
			fx := newConverter(t, f)
			txn := f.seed(t, newTxn("txn-1", "100", "USD", domain.TypePayment))
			pctx := domain.NewProcessingContext()

			res, err := fx.Process(context.Background(), txn, pctx)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeRateUnavailable))
				assert.True(t, fx.IsCritical(txn, pctx))
				assert.Nil(t, f.stored(t, "txn-1").ConvertedAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, RateTriangulated, res.Payload["method"])
			assert.Equal(t, "EUR", res.Payload["via"])
			assertDecimal(t, "450", *res.TransactionPatch.ConvertedAmount)
		})
	}
}

func TestFXConverter_NoTriangulationThroughHubLeg(t *testing.T) {
	f := newFixture(t)
	f.deps.Rates = &mockRateSource{
		RateFunc: func(context.Context, string, string) (decimal.Decimal, bool, error) {
			return decimal.Zero, false, nil
		},
	}
	fx := newConverter(t, f)

	_, err := fx.ResolveRate(context.Background(), "USD", "MYR")
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateUnavailable))
}

func TestFXConverter_RateSourceFailure(t *testing.T) {
	f := newFixture(t)
	f.deps.Rates = &mockRateSource{
		RateFunc: func(context.Context, string, string) (decimal.Decimal, bool, error) {
			return decimal.Zero, false, fmt.Errorf("connection refused")
		},
	}
	fx := newConverter(t, f)

	_, err := fx.Process(context.Background(), newTxn("txn-1", "1", "USD", domain.TypePayment), domain.NewProcessingContext())
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestFXConverter_IsCritical(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)

	usd := newTxn("txn-1", "1", "USD", domain.TypePayment)
	assert.True(t, fx.IsCritical(usd, domain.NewProcessingContext()))
	assert.False(t, fx.IsCritical(usd, domain.NewProcessingContext().Set(domain.KeyAllowFxFailure, true)))
	assert.False(t, fx.IsCritical(newTxn("txn-2", "1", "MYR", domain.TypePayment), domain.NewProcessingContext()))
}

func TestFXConverter_InvalidTargetCurrency(t *testing.T) {
	f := newFixture(t)
	fx := newConverter(t, f)

	pctx := domain.NewProcessingContext().Set(domain.KeyTargetCurrency, "dollars")
	_, err := fx.Process(context.Background(), newTxn("txn-1", "1", "USD", domain.TypePayment), pctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
