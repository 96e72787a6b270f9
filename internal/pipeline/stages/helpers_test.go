package stages

import (
	"context"
	"testing"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/adapters"
	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 2024-03-13 14:00 in Kuala Lumpur
var weekdayAfternoon = time.Date(2024, 3, 13, 6, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type mockRateSource struct {
	RateFunc func(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
}

func (m *mockRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	return m.RateFunc(ctx, from, to)
}

type fixture struct {
	cfg      *config.Config
	txns     *adapters.MemoryTransactionStore
	tokens   *adapters.MemoryTokenStore
	accounts *adapters.MemoryAccountLookup
	deps     Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)

	f := &fixture{
		cfg:      cfg,
		txns:     adapters.NewMemoryTransactionStore(),
		tokens:   adapters.NewMemoryTokenStore(),
		accounts: adapters.NewMemoryAccountLookup(),
	}
	f.deps = Dependencies{
		Rates:        adapters.NewStaticRateSource(cfg.FX.Rates),
		Transactions: f.txns,
		Tokens:       f.tokens,
		Accounts:     f.accounts,
		Clock:        fixedClock{now: weekdayAfternoon},
		Logger:       logging.NewNopLogger(),
	}
	return f
}

func (f *fixture) seed(t *testing.T, txn domain.Transaction) domain.Transaction {
	t.Helper()
	require.NoError(t, f.txns.Create(context.Background(), txn))
	return txn
}

func (f *fixture) stored(t *testing.T, id string) domain.Transaction {
	t.Helper()
	txn, err := f.txns.FindByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func newTxn(id, amount, currency string, typ domain.TransactionType) domain.Transaction {
	return domain.Transaction{
		ID:         id,
		AccountID:  "acc-1",
		Amount:     decimal.RequireFromString(amount),
		Currency:   currency,
		Status:     domain.StatusProcessing,
		Type:       typ,
		MerchantID: "merchant-1",
		CreatedAt:  weekdayAfternoon,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
