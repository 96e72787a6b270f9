package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TokenStatus is the lifecycle state of an offline token
type TokenStatus string

const (
	TokenActive    TokenStatus = "active"
	TokenUsed      TokenStatus = "used"
	TokenExpired   TokenStatus = "expired"
	TokenCancelled TokenStatus = "cancelled"
)

// IsTerminal reports whether the token can no longer change state
func (s TokenStatus) IsTerminal() bool {
	return s != TokenActive
}

// Token operations requested through the processing context
const (
	OpGenerateToken = "generateToken"
	OpRedeemToken   = "redeemToken"
	OpValidateToken = "validateToken"
	OpCancelToken   = "cancelToken"
)

// IsTokenOperation reports whether op names a token operation
func IsTokenOperation(op string) bool {
	switch op {
	case OpGenerateToken, OpRedeemToken, OpValidateToken, OpCancelToken:
		return true
	}
	return false
}

// OfflineToken is a bearer credential redeemable once for a fixed amount
type OfflineToken struct {
	Token                   string
	Owner                   string
	Amount                  decimal.Decimal
	Currency                string
	Status                  TokenStatus
	ExpiresAt               time.Time
	AllowedMerchants        []string
	BlockedMerchants        []string
	MerchantTypeRestriction []string
	TransactionID           string
	CreatedAt               time.Time
	UsedAt                  *time.Time
	RedeemedBy              string
}

// EffectiveStatus derives the status at now; an active token past its expiry reads as expired
func (t OfflineToken) EffectiveStatus(now time.Time) TokenStatus {
	if t.Status == TokenActive && !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return t.Status
}

// MerchantBlocked reports whether merchantID or merchantType is excluded by the token
func (t OfflineToken) MerchantBlocked(merchantID, merchantType string) bool {
	if slices.Contains(t.BlockedMerchants, merchantID) {
		return true
	}
	return merchantType != "" && slices.Contains(t.MerchantTypeRestriction, merchantType)
}

// MerchantAllowed reports whether merchantID passes the allow-list and block-list
func (t OfflineToken) MerchantAllowed(merchantID, merchantType string) bool {
	if t.MerchantBlocked(merchantID, merchantType) {
		return false
	}
	return len(t.AllowedMerchants) == 0 || slices.Contains(t.AllowedMerchants, merchantID)
}

// Clone returns a copy that shares no slices with t
func (t OfflineToken) Clone() OfflineToken {
	out := t
	out.AllowedMerchants = slices.Clone(t.AllowedMerchants)
	out.BlockedMerchants = slices.Clone(t.BlockedMerchants)
	out.MerchantTypeRestriction = slices.Clone(t.MerchantTypeRestriction)
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		out.UsedAt = &usedAt
	}
	return out
}
