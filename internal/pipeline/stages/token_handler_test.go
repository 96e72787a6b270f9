package stages

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paypipe/internal/errors"
	"paypipe/internal/pipeline/adapters"
	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T, f *fixture) *TokenHandler {
	t.Helper()
	h, err := NewTokenHandler(f.cfg.Token, f.deps)
	require.NoError(t, err)
	return h
}

func activeToken(token string) domain.OfflineToken {
	return domain.OfflineToken{
		Token:     token,
		Owner:     "acc-1",
		Amount:    decimal.RequireFromString("50"),
		Currency:  "MYR",
		Status:    domain.TokenActive,
		ExpiresAt: weekdayAfternoon.Add(24 * time.Hour),
		CreatedAt: weekdayAfternoon.Add(-time.Hour),
	}
}

func redeemCtx(token string) *domain.ProcessingContext {
	return domain.NewProcessingContext().
		Set(domain.KeyTokenOperation, domain.OpRedeemToken).
		Set(domain.KeyToken, token)
}

func TestTokenHandler_Gates(t *testing.T) {
	f := newFixture(t)
	h := newHandler(t, f)

	offline := newTxn("txn-1", "10", "MYR", domain.TypeOffline)
	payment := newTxn("txn-2", "10", "MYR", domain.TypePayment)
	empty := domain.NewProcessingContext()

	assert.True(t, h.IsEnabled(offline, empty))
	assert.True(t, h.IsCritical(offline, empty))
	assert.False(t, h.IsEnabled(payment, empty))
	assert.False(t, h.IsCritical(payment, empty))
	assert.True(t, h.IsEnabled(payment, redeemCtx("OT-1")))
	assert.True(t, h.IsCritical(payment, redeemCtx("OT-1")))
}

func TestTokenHandler_GenerateToken(t *testing.T) {
	f := newFixture(t)
	h := newHandler(t, f)
	txn := f.seed(t, newTxn("txn-1", "120", "MYR", domain.TypeOffline))
	pctx := domain.NewProcessingContext().
		Set(domain.KeyExpiryHours, 48).
		Set(domain.KeyAllowedMerchants, []string{"merchant-1", "merchant-2"})

	res, err := h.Process(context.Background(), txn, pctx)
	require.NoError(t, err)

	assert.Equal(t, domain.OpGenerateToken, res.Action)
	token, _ := res.Payload["token"].(string)
	assert.True(t, strings.HasPrefix(token, "OT-"))
	assert.Len(t, token, 35)
	assert.Equal(t, strings.ToUpper(token), token)

	require.NotNil(t, res.TransactionPatch.Status)
	assert.Equal(t, domain.StatusCompleted, *res.TransactionPatch.Status)
	assert.Equal(t, token, res.TransactionPatch.Metadata["offlineToken"])
	require.NoError(t, res.ContextPatch.Validate())

	stored, err := f.tokens.FindByToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenActive, stored.Status)
	assert.Equal(t, weekdayAfternoon.Add(48*time.Hour), stored.ExpiresAt)
	assert.Equal(t, []string{"merchant-1", "merchant-2"}, stored.AllowedMerchants)
	assert.Equal(t, "acc-1", stored.Owner)
	assertDecimal(t, "120", stored.Amount)

	assert.Equal(t, domain.StatusCompleted, f.stored(t, "txn-1").Status)
}

func TestTokenHandler_GenerateRejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		pctx   *domain.ProcessingContext
	}{
		{"amount below minimum", "0.5", domain.NewProcessingContext()},
		{"amount above maximum", "1000.01", domain.NewProcessingContext()},
		{"zero expiry", "10", domain.NewProcessingContext().Set(domain.KeyExpiryHours, 0)},
		{"expiry above maximum", "10", domain.NewProcessingContext().Set(domain.KeyExpiryHours, 169)},
		{"fractional expiry", "10", domain.NewProcessingContext().Set(domain.KeyExpiryHours, 1.5)},
		{"restricted merchant type", "10", domain.NewProcessingContext().Set(domain.KeyMerchantType, "gambling")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := newHandler(t, f)
			txn := f.seed(t, newTxn("txn-1", tt.amount, "MYR", domain.TypeOffline))

			_, err := h.Process(context.Background(), txn, tt.pctx)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			assert.True(t, h.IsCritical(txn, tt.pctx))
			assert.NotEqual(t, domain.StatusCompleted, f.stored(t, "txn-1").Status)
		})
	}
}

func TestTokenHandler_GenerateRetriesCollision(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), activeToken("OT-TAKEN")))
	h := newHandler(t, f)
	minted := []string{"OT-TAKEN", "OT-FRESH"}
	h.newToken = func() string {
		next := minted[0]
		minted = minted[1:]
		return next
	}
	txn := f.seed(t, newTxn("txn-1", "10", "MYR", domain.TypeOffline))

	res, err := h.Process(context.Background(), txn, domain.NewProcessingContext())
	require.NoError(t, err)
	assert.Equal(t, "OT-FRESH", res.Payload["token"])
}

func TestTokenHandler_RedeemToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), activeToken("OT-1")))
	h := newHandler(t, f)
	txn := f.seed(t, newTxn("txn-1", "50", "MYR", domain.TypePayment))

	res, err := h.Process(context.Background(), txn, redeemCtx("OT-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.OpRedeemToken, res.Action)
	assert.Equal(t, domain.StatusCompleted, *res.TransactionPatch.Status)
	assert.Equal(t, "OT-1", res.TransactionPatch.Metadata["redeemedToken"])

	token, err := f.tokens.FindByToken(context.Background(), "OT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenUsed, token.Status)
	assert.Equal(t, "merchant-1", token.RedeemedBy)
	require.NotNil(t, token.UsedAt)
	assert.Equal(t, weekdayAfternoon, *token.UsedAt)
	assert.Equal(t, domain.StatusCompleted, f.stored(t, "txn-1").Status)
}

func TestTokenHandler_RedeemRejections(t *testing.T) {
	tests := []struct {
		name   string
		token  func() domain.OfflineToken
		amount string
		txnCcy string
	}{
		{"not found", nil, "50", "MYR"},
		{"expired", func() domain.OfflineToken {
			tok := activeToken("OT-1")
			tok.ExpiresAt = weekdayAfternoon
			return tok
		}, "50", "MYR"},
		{"already used", func() domain.OfflineToken {
			tok := activeToken("OT-1")
			tok.Status = domain.TokenUsed
			return tok
		}, "50", "MYR"},
		{"cancelled", func() domain.OfflineToken {
			tok := activeToken("OT-1")
			tok.Status = domain.TokenCancelled
			return tok
		}, "50", "MYR"},
		{"merchant blocked", func() domain.OfflineToken {
			tok := activeToken("OT-1")
			tok.BlockedMerchants = []string{"merchant-1"}
			return tok
		}, "50", "MYR"},
		{"merchant not in allow list", func() domain.OfflineToken {
			tok := activeToken("OT-1")
			tok.AllowedMerchants = []string{"merchant-9"}
			return tok
		}, "50", "MYR"},
		{"amount mismatch", func() domain.OfflineToken { return activeToken("OT-1") }, "49.99", "MYR"},
		{"currency mismatch", func() domain.OfflineToken { return activeToken("OT-1") }, "50", "SGD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var before domain.OfflineToken
			if tt.token != nil {
				before = tt.token()
				require.NoError(t, f.tokens.Create(context.Background(), before))
			}
			h := newHandler(t, f)
			txn := f.seed(t, newTxn("txn-1", tt.amount, tt.txnCcy, domain.TypePayment))

			_, err := h.Process(context.Background(), txn, redeemCtx("OT-1"))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState), "got %v", err)

			assert.Equal(t, domain.StatusProcessing, f.stored(t, "txn-1").Status)
			if tt.token != nil {
				after, err := f.tokens.FindByToken(context.Background(), "OT-1")
				require.NoError(t, err)
				assert.Equal(t, before, after)
			}
		})
	}
}

func TestTokenHandler_RedeemMerchantTypeRestriction(t *testing.T) {
	f := newFixture(t)
	tok := activeToken("OT-1")
	tok.MerchantTypeRestriction = []string{"alcohol"}
	require.NoError(t, f.tokens.Create(context.Background(), tok))
	h := newHandler(t, f)
	txn := f.seed(t, newTxn("txn-1", "50", "MYR", domain.TypePayment))

	_, err := h.Process(context.Background(), txn, redeemCtx("OT-1").Set(domain.KeyMerchantType, "alcohol"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
}

func TestTokenHandler_RefusesTerminalTransaction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), activeToken("OT-1")))
	h := newHandler(t, f)
	txn := newTxn("txn-1", "50", "MYR", domain.TypePayment)
	txn.Status = domain.StatusBlocked

	_, err := h.Process(context.Background(), txn, redeemCtx("OT-1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))

	token, err := f.tokens.FindByToken(context.Background(), "OT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenActive, token.Status)
}

func TestTokenHandler_ValidateIsReadOnly(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.TokenStatus
		expiresAt time.Time
		valid     bool
		flag      string
	}{
		{"active", domain.TokenActive, weekdayAfternoon.Add(time.Hour), true, ""},
		{"used", domain.TokenUsed, weekdayAfternoon.Add(time.Hour), false, "used"},
		{"cancelled", domain.TokenCancelled, weekdayAfternoon.Add(time.Hour), false, "cancelled"},
		{"stored expired", domain.TokenExpired, weekdayAfternoon.Add(-time.Hour), false, "expired"},
		{"active past expiry", domain.TokenActive, weekdayAfternoon.Add(-time.Hour), false, "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tok := activeToken("OT-1")
			tok.Status = tt.status
			tok.ExpiresAt = tt.expiresAt
			require.NoError(t, f.tokens.Create(context.Background(), tok))
			h := newHandler(t, f)
			txn := f.seed(t, newTxn("txn-1", "50", "MYR", domain.TypePayment))
			pctx := domain.NewProcessingContext().
				Set(domain.KeyTokenOperation, domain.OpValidateToken).
				Set(domain.KeyToken, "OT-1")

			for i := 0; i < 2; i++ {
				res, err := h.Process(context.Background(), txn, pctx)
				require.NoError(t, err)
				assert.Equal(t, tt.valid, res.Payload["valid"])
				assert.Equal(t, true, res.Payload["exists"])
				if tt.flag != "" {
					assert.Equal(t, true, res.Payload[tt.flag])
				}
				assert.Nil(t, res.TransactionPatch)
			}

			after, err := f.tokens.FindByToken(context.Background(), "OT-1")
			require.NoError(t, err)
			assert.Equal(t, tok, after)
			assert.Equal(t, domain.StatusProcessing, f.stored(t, "txn-1").Status)
		})
	}
}

func TestTokenHandler_ValidateMissingAndBlocked(t *testing.T) {
	f := newFixture(t)
	tok := activeToken("OT-1")
	tok.BlockedMerchants = []string{"merchant-1"}
	require.NoError(t, f.tokens.Create(context.Background(), tok))
	h := newHandler(t, f)

	v, err := h.Validate(context.Background(), "OT-404", "", "")
	require.NoError(t, err)
	assert.Equal(t, TokenValidation{}, v)

	v, err = h.Validate(context.Background(), "OT-1", "merchant-1", "")
	require.NoError(t, err)
	assert.True(t, v.Exists)
	assert.False(t, v.Valid)
	assert.True(t, v.MerchantBlocked)
	assert.False(t, v.MerchantAllowed)
}

func TestTokenHandler_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), activeToken("OT-1")))
	h := newHandler(t, f)

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		stateErrs atomic.Int32
	)
	for i := 0; i < callers; i++ {
		txn := f.seed(t, newTxn(fmt.Sprintf("txn-%d", i), "50", "MYR", domain.TypePayment))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Process(context.Background(), txn, redeemCtx("OT-1"))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.IsType(err, errors.ErrorTypeTokenState):
				stateErrs.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(callers-1), stateErrs.Load())

	token, err := f.tokens.FindByToken(context.Background(), "OT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenUsed, token.Status)
}

func TestTokenHandler_CancelToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Create(context.Background(), activeToken("OT-1")))
	h := newHandler(t, f)
	pctx := domain.NewProcessingContext().
		Set(domain.KeyTokenOperation, domain.OpCancelToken).
		Set(domain.KeyToken, "OT-1")

	stranger := newTxn("txn-0", "0", "MYR", domain.TypePayment)
	stranger.AccountID = "acc-2"
	_, err := h.Process(context.Background(), stranger, pctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))

	res, err := h.Process(context.Background(), newTxn("txn-1", "0", "MYR", domain.TypePayment), pctx)
	require.NoError(t, err)
	assert.Equal(t, string(domain.TokenCancelled), res.Payload["status"])

	_, err = h.Process(context.Background(), newTxn("txn-2", "0", "MYR", domain.TypePayment), pctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
}

func TestTokenHandler_UnknownOperation(t *testing.T) {
	f := newFixture(t)
	h := newHandler(t, f)
	pctx := domain.NewProcessingContext().Set(domain.KeyTokenOperation, "mintMoney")

	_, err := h.Process(context.Background(), newTxn("txn-1", "1", "MYR", domain.TypeOffline), pctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

type hookedTokenStore struct {
	*adapters.MemoryTokenStore
	AfterCreate func()
}

func (s *hookedTokenStore) Create(ctx context.Context, token domain.OfflineToken) error {
	err := s.MemoryTokenStore.Create(ctx, token)
	if s.AfterCreate != nil {
		s.AfterCreate()
	}
	return err
}

func TestTokenHandler_GenerateAfterDeadlineCancelsToken(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.deps.Tokens = &hookedTokenStore{MemoryTokenStore: f.tokens, AfterCreate: cancel}
	h := newHandler(t, f)
	h.newToken = func() string { return "OT-LATE" }
	txn := f.seed(t, newTxn("txn-1", "10", "MYR", domain.TypeOffline))

	res, err := h.Process(ctx, txn, domain.NewProcessingContext())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	stored, err := f.tokens.FindByToken(context.Background(), "OT-LATE")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenCancelled, stored.Status)
	assert.Equal(t, domain.StatusProcessing, f.stored(t, "txn-1").Status)
}
