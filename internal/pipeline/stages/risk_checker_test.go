package stages

import (
	"context"
	"fmt"
	"testing"
	"time"

	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T, f *fixture) *RiskChecker {
	t.Helper()
	rc, err := NewRiskChecker(f.cfg.Risk, f.cfg.FX.BaseCurrency, f.deps)
	require.NoError(t, err)
	return rc
}

func establishedAccount(id string) domain.Account {
	return domain.Account{ID: id, Status: domain.AccountActive, CreatedAt: weekdayAfternoon.AddDate(-2, 0, 0)}
}

func TestRiskChecker_AmountContributionIsMonotonic(t *testing.T) {
	f := newFixture(t)
	rules, err := newRiskRules(f.cfg.Risk)
	require.NoError(t, err)

	amounts := []string{"0", "10", "4999.99", "5000", "9999.99", "10000", "10000.01", "15000", "20000", "50000", "1000000"}
	prev := -1.0
	for _, a := range amounts {
		c := rules.amountFactor(decimal.RequireFromString(a)).Contribution()
		assert.GreaterOrEqualf(t, c, prev, "contribution dropped at amount %s", a)
		prev = c
	}
}

func TestRiskChecker_HighValuePaymentIsFlagged(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(establishedAccount("acc-1"))
	rc := newChecker(t, f)
	txn := f.seed(t, newTxn("txn-1", "15000", "MYR", domain.TypePayment))
	pctx := domain.NewProcessingContext()

	assert.True(t, rc.IsEnabled(txn, pctx))
	assert.True(t, rc.IsCritical(txn, pctx))

	assessment, err := rc.Assess(context.Background(), txn, pctx)
	require.NoError(t, err)
	amount, ok := assessment.Factor(domain.FactorAmount)
	require.True(t, ok)
	assert.GreaterOrEqual(t, amount.Score, 50.0)

	res, err := rc.Process(context.Background(), txn, pctx)
	require.NoError(t, err)
	require.NotNil(t, res.TransactionPatch)
	require.NotNil(t, res.TransactionPatch.Status)
	assert.Contains(t, []domain.TransactionStatus{domain.StatusFlagged, domain.StatusBlocked}, *res.TransactionPatch.Status)
	assert.Equal(t, string(domain.ActionReview), res.Action)
	assert.Equal(t, "manual", res.TransactionPatch.Metadata["riskReview"])

	stored := f.stored(t, "txn-1")
	assert.Equal(t, domain.StatusFlagged, stored.Status)
	assert.Equal(t, "manual", stored.Metadata["riskReview"])
}

func TestRiskChecker_LowRiskIsApprovedWithoutPatch(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(establishedAccount("acc-1"))
	rc := newChecker(t, f)
	txn := f.seed(t, newTxn("txn-1", "42.50", "MYR", domain.TypePayment))

	res, err := rc.Process(context.Background(), txn, domain.NewProcessingContext())
	require.NoError(t, err)

	assert.Equal(t, string(domain.ActionApprove), res.Action)
	assert.Nil(t, res.TransactionPatch)
	assert.Equal(t, domain.StatusProcessing, f.stored(t, "txn-1").Status)

	keys := make([]string, 0, len(res.ContextPatch.Entries))
	for _, e := range res.ContextPatch.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{domain.KeyRiskScore, domain.KeyRiskLevel, domain.KeyRiskAction}, keys)
	assert.NoError(t, res.ContextPatch.Validate())
}

func TestRiskChecker_MissingAccountIsElevatedNotFatal(t *testing.T) {
	f := newFixture(t)
	rc := newChecker(t, f)
	txn := f.seed(t, newTxn("txn-1", "10", "MYR", domain.TypePayment))

	assessment, err := rc.Assess(context.Background(), txn, domain.NewProcessingContext())
	require.NoError(t, err)

	user, ok := assessment.Factor(domain.FactorUser)
	require.True(t, ok)
	assert.Equal(t, 50.0, user.Score)
	assert.Equal(t, true, user.Details["insufficientData"])
}

func TestRiskChecker_UserFactor(t *testing.T) {
	f := newFixture(t)
	rules, err := newRiskRules(f.cfg.Risk)
	require.NoError(t, err)
	now := weekdayAfternoon

	tests := []struct {
		name    string
		account domain.Account
		want    float64
	}{
		{"established active", establishedAccount("a"), 0},
		{"new active", domain.Account{ID: "a", Status: domain.AccountActive, CreatedAt: now.Add(-48 * time.Hour)}, 40},
		{"established suspended", domain.Account{ID: "a", Status: domain.AccountSuspended, CreatedAt: now.AddDate(-1, 0, 0)}, 70},
		{"new closed takes the max", domain.Account{ID: "a", Status: domain.AccountClosed, CreatedAt: now.Add(-time.Hour)}, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := tt.account
			assert.Equal(t, tt.want, rules.userFactor(&account, now).Score)
		})
	}
}

func TestRiskChecker_TimeFactor(t *testing.T) {
	f := newFixture(t)
	rules, err := newRiskRules(f.cfg.Risk)
	require.NoError(t, err)
	kl := rules.location

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"weekday afternoon", time.Date(2024, 3, 13, 14, 0, 0, 0, kl), 0},
		{"weekday night", time.Date(2024, 3, 13, 3, 0, 0, 0, kl), 30},
		{"weekend afternoon", time.Date(2024, 3, 16, 14, 0, 0, 0, kl), 20},
		{"weekend night", time.Date(2024, 3, 17, 3, 0, 0, 0, kl), 50},
		{"window end is exclusive", time.Date(2024, 3, 13, 6, 0, 0, 0, kl), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.timeFactor(tt.at).Score)
		})
	}
}

func TestRiskChecker_OffHoursWrapAround(t *testing.T) {
	rules := riskRules{offStart: 22, offEnd: 6}

	assert.True(t, rules.inOffHours(23))
	assert.True(t, rules.inOffHours(0))
	assert.True(t, rules.inOffHours(5))
	assert.False(t, rules.inOffHours(6))
	assert.False(t, rules.inOffHours(12))
	assert.False(t, riskRules{offStart: 3, offEnd: 3}.inOffHours(3))
}

func TestRiskChecker_VelocityFromHistory(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(establishedAccount("acc-1"))
	rc := newChecker(t, f)

	// outside the one hour window
	old := newTxn("old", "100", "MYR", domain.TypePayment)
	old.CreatedAt = weekdayAfternoon.Add(-2 * time.Hour)
	f.seed(t, old)

	for i := 0; i < 9; i++ {
		txn := newTxn(fmt.Sprintf("recent-%d", i), "100", "MYR", domain.TypePayment)
		txn.CreatedAt = weekdayAfternoon.Add(-time.Duration(i+1) * time.Minute)
		f.seed(t, txn)
	}
	current := f.seed(t, newTxn("txn-1", "100", "MYR", domain.TypePayment))

	assessment, err := rc.Assess(context.Background(), current, domain.NewProcessingContext())
	require.NoError(t, err)
	velocity, _ := assessment.Factor(domain.FactorVelocity)
	// ten transactions in the window reaches the count ceiling
	assert.Equal(t, 10, velocity.Details["count"])
	assert.InDelta(t, 51.0, velocity.Score, 1e-9)

	quiet := newFixture(t)
	quiet.accounts.Put(establishedAccount("acc-1"))
	qrc := newChecker(t, quiet)
	single := quiet.seed(t, newTxn("txn-1", "100", "MYR", domain.TypePayment))
	assessment, err = qrc.Assess(context.Background(), single, domain.NewProcessingContext())
	require.NoError(t, err)
	velocity, _ = assessment.Factor(domain.FactorVelocity)
	assert.Zero(t, velocity.Score)
}

func TestRiskChecker_MerchantAndLocationAreSeparateFactors(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(establishedAccount("acc-1"))
	rc := newChecker(t, f)
	txn := newTxn("txn-1", "10", "MYR", domain.TypePayment)
	txn.MerchantName = "Lucky Casino Online"
	f.seed(t, txn)

	assessment, err := rc.Assess(context.Background(), txn, domain.NewProcessingContext().Set(domain.KeyLocation, "kp"))
	require.NoError(t, err)

	merchant, _ := assessment.Factor(domain.FactorMerchant)
	location, _ := assessment.Factor(domain.FactorLocation)
	assert.Equal(t, 60.0, merchant.Score)
	assert.Equal(t, 80.0, location.Score)
	assert.InDelta(t, 60*0.15+80*0.15, assessment.Score, 0.01)
}

func TestRiskChecker_UsesConvertedBaseAmount(t *testing.T) {
	f := newFixture(t)
	rc := newChecker(t, f)
	txn := newTxn("txn-1", "3000", "USD", domain.TypePayment)
	converted := decimal.RequireFromString("14160")
	txn.ConvertedAmount = &converted
	txn.ConvertedCurrency = "MYR"

	assert.True(t, rc.scoredAmount(txn).Equal(converted))
	// criticality follows the raw amount
	assert.False(t, rc.IsCritical(txn, domain.NewProcessingContext()))
}

func TestRiskChecker_Decide(t *testing.T) {
	f := newFixture(t)
	rc := newChecker(t, f)
	small := newTxn("txn-1", "10", "MYR", domain.TypePayment)
	large := newTxn("txn-2", "20000", "MYR", domain.TypePayment)

	tests := []struct {
		name   string
		txn    domain.Transaction
		score  float64
		action domain.RiskAction
		status domain.TransactionStatus
		review string
	}{
		{"approve", small, 39.99, domain.ActionApprove, "", ""},
		{"monitor", small, 40, domain.ActionMonitor, domain.StatusFlagged, "monitoring"},
		{"review", small, 60, domain.ActionReview, domain.StatusFlagged, "manual"},
		{"block", small, 80, domain.ActionBlock, domain.StatusBlocked, ""},
		{"high value floor", large, 10, domain.ActionReview, domain.StatusFlagged, "manual"},
		{"high value still blocks", large, 95, domain.ActionBlock, domain.StatusBlocked, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := rc.Decide(tt.txn, domain.RiskAssessment{Score: tt.score})
			assert.Equal(t, tt.action, action)
			status, review := statusForAction(action)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.review, review)
		})
	}
}

func TestRiskChecker_SkipFlagDisables(t *testing.T) {
	f := newFixture(t)
	rc := newChecker(t, f)

	assert.False(t, rc.IsEnabled(newTxn("txn-1", "1", "MYR", domain.TypePayment),
		domain.NewProcessingContext().Set(domain.KeySkipRiskCheck, true)))
}

func TestRiskChecker_AccountlessVelocityIgnoresOtherTransactions(t *testing.T) {
	f := newFixture(t)
	rc := newChecker(t, f)
	for i := 0; i < 12; i++ {
		txn := newTxn(fmt.Sprintf("txn-anon-%d", i), "100", "MYR", domain.TypePayment)
		txn.AccountID = ""
		txn.CreatedAt = weekdayAfternoon.Add(-time.Duration(i+1) * time.Minute)
		f.seed(t, txn)
	}
	txn := newTxn("txn-anon", "100", "MYR", domain.TypePayment)
	txn.AccountID = ""
	txn = f.seed(t, txn)

	assessment, err := rc.Assess(context.Background(), txn, domain.NewProcessingContext())
	require.NoError(t, err)

	velocity, ok := assessment.Factor(domain.FactorVelocity)
	require.True(t, ok)
	assert.Equal(t, 0.0, velocity.Score)
	assert.Empty(t, velocity.Reason)
	assert.Equal(t, true, velocity.Details["insufficientData"])
	assert.NotContains(t, velocity.Details, "count")
}
