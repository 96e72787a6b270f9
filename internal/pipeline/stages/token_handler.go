package stages

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const tokenCreateAttempts = 3

// TokenHandler runs the offline-token lifecycle: generate, redeem, validate
// and cancel.
type TokenHandler struct {
	baseStage
	minAmount          decimal.Decimal
	maxAmount          decimal.Decimal
	maxExpiryHours     int
	defaultExpiryHours int
	restrictedTypes    []string
	tokens             ports.TokenStore
	txns               ports.TransactionStore
	clock              ports.Clock
	newToken           func() string
	logger             *logging.Logger
}

// NewTokenHandler creates the offline token stage
func NewTokenHandler(cfg config.TokenConfig, deps Dependencies) (*TokenHandler, error) {
	if deps.Tokens == nil || deps.Transactions == nil {
		return nil, errors.Configuration("token handler requires a token store and a transaction store")
	}
	return &TokenHandler{
		baseStage: baseStage{
			name:        config.StageTokenHandler,
			version:     "1.1.0",
			description: "Generates, redeems, validates and cancels offline payment tokens",
		},
		minAmount:          decimal.NewFromFloat(cfg.MinAmount),
		maxAmount:          decimal.NewFromFloat(cfg.MaxAmount),
		maxExpiryHours:     cfg.MaxExpiryHours,
		defaultExpiryHours: cfg.DefaultExpiryHours,
		restrictedTypes:    cfg.RestrictedMerchantTypes,
		tokens:             deps.Tokens,
		txns:               deps.Transactions,
		clock:              deps.clock(),
		newToken:           NewTokenString,
		logger:             deps.logger("token"),
	}, nil
}

// NewTokenString mints an opaque token string
func NewTokenString() string {
	return "OT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (h *TokenHandler) operation(txn domain.Transaction, pctx *domain.ProcessingContext) string {
	if op := pctx.String(domain.KeyTokenOperation); op != "" {
		return op
	}
	if txn.Type == domain.TypeOffline {
		return domain.OpGenerateToken
	}
	return ""
}

func (h *TokenHandler) IsEnabled(txn domain.Transaction, pctx *domain.ProcessingContext) bool {
	return txn.Type == domain.TypeOffline || domain.IsTokenOperation(pctx.String(domain.KeyTokenOperation))
}

// IsCritical is true for every offline transaction and token operation;
// offline payments have no fallback path
func (h *TokenHandler) IsCritical(txn domain.Transaction, pctx *domain.ProcessingContext) bool {
	return h.IsEnabled(txn, pctx)
}

func (h *TokenHandler) Process(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	op := h.operation(txn, pctx)

	switch op {
	case domain.OpValidateToken:
		return h.validate(ctx, txn, pctx)
	case domain.OpGenerateToken, domain.OpRedeemToken, domain.OpCancelToken:
	default:
		return nil, errors.Validationf("unknown token operation %q", op)
	}

	if txn.Status.IsTerminal() {
		return nil, errors.TokenState("transaction " + txn.ID + " is already " + string(txn.Status))
	}

	switch op {
	case domain.OpGenerateToken:
		return h.generate(ctx, txn, pctx)
	case domain.OpRedeemToken:
		return h.redeem(ctx, txn, pctx)
	default:
		return h.cancel(ctx, txn, pctx)
	}
}

func (h *TokenHandler) expiryHours(pctx *domain.ProcessingContext) (int, error) {
	hours, ok := pctx.Number(domain.KeyExpiryHours)
	if !ok {
		return h.defaultExpiryHours, nil
	}
	if hours != math.Trunc(hours) || hours < 1 || hours > float64(h.maxExpiryHours) {
		return 0, errors.Validationf("expiry hours must be a whole number in [1, %d], got %v", h.maxExpiryHours, hours)
	}
	return int(hours), nil
}

func (h *TokenHandler) generate(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	if txn.Amount.LessThan(h.minAmount) || txn.Amount.GreaterThan(h.maxAmount) {
		return nil, errors.Validationf("token amount %s outside [%s, %s]", txn.Amount, h.minAmount, h.maxAmount).
			WithContext("amount", txn.Amount.String())
	}
	hours, err := h.expiryHours(pctx)
	if err != nil {
		return nil, err
	}
	if merchantType := pctx.String(domain.KeyMerchantType); merchantType != "" && slices.Contains(h.restrictedTypes, merchantType) {
		return nil, errors.Validationf("merchant type %q is restricted for offline tokens", merchantType)
	}

	now := h.clock.Now()
	token := domain.OfflineToken{
		Owner:                   txn.AccountID,
		Amount:                  txn.Amount,
		Currency:                txn.Currency,
		Status:                  domain.TokenActive,
		ExpiresAt:               now.Add(time.Duration(hours) * time.Hour),
		AllowedMerchants:        pctx.Strings(domain.KeyAllowedMerchants),
		BlockedMerchants:        pctx.Strings(domain.KeyBlockedMerchants),
		MerchantTypeRestriction: pctx.Strings(domain.KeyMerchantTypeRestriction),
		TransactionID:           txn.ID,
		CreatedAt:               now,
	}

	for attempt := 1; ; attempt++ {
		token.Token = h.newToken()
		err = h.tokens.Create(ctx, token)
		if err == nil {
			break
		}
		if !errors.IsType(err, errors.ErrorTypeValidation) || attempt == tokenCreateAttempts {
			return nil, err
		}
		h.logger.Warn("token collision on attempt %d, retrying", attempt)
	}

	// the stage deadline may pass while the token is written; a token minted
	// for a run that already halted must not stay redeemable
	if err := ctx.Err(); err != nil {
		if _, cancelErr := h.tokens.Cancel(context.WithoutCancel(ctx), token.Token); cancelErr != nil {
			h.logger.Error("txn=%s failed to cancel token %s after deadline: %v", txn.ID, token.Token, cancelErr)
		}
		return nil, errors.Timeout("token generation")
	}

	metadata := map[string]any{
		"offlineToken":   token.Token,
		"tokenExpiresAt": token.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if err := h.txns.UpdateStatus(ctx, txn.ID, domain.StatusCompleted, metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, "failed to complete transaction after token generation")
	}

	h.logger.Info("txn=%s generated token %s for %s %s, expires %s",
		txn.ID, token.Token, token.Amount, token.Currency, token.ExpiresAt.Format(time.RFC3339))

	patch := (&domain.TransactionPatch{}).WithStatus(domain.StatusCompleted)
	for k, v := range metadata {
		patch.WithMetadata(k, v)
	}
	return &domain.StageResult{
		Success: true,
		Action:  domain.OpGenerateToken,
		Payload: map[string]any{
			"token":     token.Token,
			"amount":    token.Amount.String(),
			"currency":  token.Currency,
			"expiresAt": token.ExpiresAt.UTC().Format(time.RFC3339),
		},
		TransactionPatch: patch,
		ContextPatch:     (&domain.ContextPatch{}).Set(domain.KeyToken, token.Token),
	}, nil
}

func (h *TokenHandler) requireToken(pctx *domain.ProcessingContext) (string, error) {
	token := pctx.String(domain.KeyToken)
	if token == "" {
		return "", errors.Validation("token is required")
	}
	return token, nil
}

func (h *TokenHandler) lookup(ctx context.Context, token string) (domain.OfflineToken, error) {
	found, err := h.tokens.FindByToken(ctx, token)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return domain.OfflineToken{}, errors.TokenState("token not found")
		}
		return domain.OfflineToken{}, err
	}
	return found, nil
}

func (h *TokenHandler) redeem(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	tokenStr, err := h.requireToken(pctx)
	if err != nil {
		return nil, err
	}
	token, err := h.lookup(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	switch status := token.EffectiveStatus(now); status {
	case domain.TokenActive:
	case domain.TokenExpired:
		return nil, errors.TokenState("token expired")
	default:
		return nil, errors.TokenState("token is " + string(status))
	}

	if !token.MerchantAllowed(txn.MerchantID, pctx.String(domain.KeyMerchantType)) {
		return nil, errors.TokenState("merchant " + txn.MerchantID + " is not permitted for this token")
	}
	if !token.Amount.Equal(txn.Amount) || token.Currency != txn.Currency {
		return nil, errors.TokenState("amount mismatch").
			WithContext("tokenAmount", token.Amount.String()+" "+token.Currency).
			WithContext("requested", txn.Amount.String()+" "+txn.Currency)
	}

	redeemed, err := h.tokens.Redeem(ctx, tokenStr, txn.MerchantID, now)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"redeemedToken": redeemed.Token,
		"redeemedAt":    now.UTC().Format(time.RFC3339),
	}
	if err := h.txns.UpdateStatus(ctx, txn.ID, domain.StatusCompleted, metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, "failed to complete transaction after redemption")
	}

	h.logger.Info("txn=%s redeemed token %s at merchant %s", txn.ID, redeemed.Token, txn.MerchantID)

	patch := (&domain.TransactionPatch{}).WithStatus(domain.StatusCompleted)
	for k, v := range metadata {
		patch.WithMetadata(k, v)
	}
	return &domain.StageResult{
		Success: true,
		Action:  domain.OpRedeemToken,
		Payload: map[string]any{
			"token":      redeemed.Token,
			"amount":     redeemed.Amount.String(),
			"currency":   redeemed.Currency,
			"merchantId": txn.MerchantID,
			"redeemedAt": now.UTC().Format(time.RFC3339),
		},
		TransactionPatch: patch,
	}, nil
}

// TokenValidation is the diagnostic view returned by validateToken
type TokenValidation struct {
	Valid           bool
	Exists          bool
	Expired         bool
	Used            bool
	Cancelled       bool
	MerchantAllowed bool
	MerchantBlocked bool
}

// Validate inspects a token without changing any state
func (h *TokenHandler) Validate(ctx context.Context, tokenStr, merchantID, merchantType string) (TokenValidation, error) {
	token, err := h.tokens.FindByToken(ctx, tokenStr)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return TokenValidation{}, nil
		}
		return TokenValidation{}, err
	}

	status := token.EffectiveStatus(h.clock.Now())
	v := TokenValidation{
		Exists:          true,
		Expired:         status == domain.TokenExpired,
		Used:            status == domain.TokenUsed,
		Cancelled:       status == domain.TokenCancelled,
		MerchantAllowed: merchantID == "" || token.MerchantAllowed(merchantID, merchantType),
		MerchantBlocked: merchantID != "" && token.MerchantBlocked(merchantID, merchantType),
	}
	v.Valid = status == domain.TokenActive && v.MerchantAllowed
	return v, nil
}

func (h *TokenHandler) validate(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	tokenStr, err := h.requireToken(pctx)
	if err != nil {
		return nil, err
	}
	v, err := h.Validate(ctx, tokenStr, txn.MerchantID, pctx.String(domain.KeyMerchantType))
	if err != nil {
		return nil, err
	}

	return &domain.StageResult{
		Success: true,
		Action:  domain.OpValidateToken,
		Payload: map[string]any{
			"token":           tokenStr,
			"valid":           v.Valid,
			"exists":          v.Exists,
			"expired":         v.Expired,
			"used":            v.Used,
			"cancelled":       v.Cancelled,
			"merchantAllowed": v.MerchantAllowed,
			"merchantBlocked": v.MerchantBlocked,
		},
		ContextPatch: (&domain.ContextPatch{}).Set(domain.KeyTokenValid, v.Valid),
	}, nil
}

func (h *TokenHandler) cancel(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) (*domain.StageResult, error) {
	tokenStr, err := h.requireToken(pctx)
	if err != nil {
		return nil, err
	}
	token, err := h.lookup(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if token.Owner != "" && txn.AccountID != token.Owner {
		return nil, errors.TokenState("token is owned by another account")
	}

	cancelled, err := h.tokens.Cancel(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	h.logger.Info("txn=%s cancelled token %s", txn.ID, cancelled.Token)

	return &domain.StageResult{
		Success: true,
		Action:  domain.OpCancelToken,
		Payload: map[string]any{
			"token":  cancelled.Token,
			"status": string(cancelled.Status),
		},
		TransactionPatch: (&domain.TransactionPatch{}).WithMetadata("cancelledToken", cancelled.Token),
	}, nil
}
