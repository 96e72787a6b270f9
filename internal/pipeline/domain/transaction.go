package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transaction
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusFlagged    TransactionStatus = "flagged"
	StatusCompleted  TransactionStatus = "completed"
	StatusBlocked    TransactionStatus = "blocked"
	StatusFailed     TransactionStatus = "failed"
)

// TransactionStatuses lists every status in lattice order
var TransactionStatuses = []TransactionStatus{
	StatusPending, StatusProcessing, StatusFlagged, StatusCompleted, StatusBlocked, StatusFailed,
}

// SourcesOf returns the statuses a transaction may move to next from
func SourcesOf(next TransactionStatus) []TransactionStatus {
	var out []TransactionStatus
	for _, s := range TransactionStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// rank orders statuses along the lattice. Terminal statuses share the top rank.
func (s TransactionStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusFlagged:
		return 2
	case StatusCompleted, StatusBlocked, StatusFailed:
		return 3
	default:
		return -1
	}
}

// IsValid reports whether s is a known status
func (s TransactionStatus) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transition is allowed out of s
func (s TransactionStatus) IsTerminal() bool {
	return s.rank() == 3
}

// CanTransitionTo reports whether moving from s to next respects the status lattice.
// Staying in the same status is always allowed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// TransactionType classifies a transaction
type TransactionType string

const (
	TypePayment  TransactionType = "payment"
	TypeTransfer TransactionType = "transfer"
	TypeOffline  TransactionType = "offline"
	TypeRefund   TransactionType = "refund"
)

// IsValid reports whether t is a known transaction type
func (t TransactionType) IsValid() bool {
	switch t {
	case TypePayment, TypeTransfer, TypeOffline, TypeRefund:
		return true
	}
	return false
}

// Transaction is the state threaded through one pipeline run
type Transaction struct {
	ID                string
	AccountID         string
	Amount            decimal.Decimal
	Currency          string
	ConvertedAmount   *decimal.Decimal
	ConvertedCurrency string
	Status            TransactionStatus
	Type              TransactionType
	MerchantID        string
	MerchantName      string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a copy that shares no mutable state with t
func (t Transaction) Clone() Transaction {
	out := t
	if t.ConvertedAmount != nil {
		converted := *t.ConvertedAmount
		out.ConvertedAmount = &converted
	}
	out.Metadata = maps.Clone(t.Metadata)
	return out
}

// Validate checks the fields a transaction needs before entering the pipeline
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if !IsCurrencyCode(t.Currency) {
		return fmt.Errorf("invalid currency %q", t.Currency)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type %q", t.Type)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status %q", t.Status)
	}
	return nil
}

// Snapshot renders the transaction as a flat map for audit records
func (t Transaction) Snapshot() map[string]any {
	snap := map[string]any{
		"id":           t.ID,
		"accountId":    t.AccountID,
		"amount":       t.Amount.String(),
		"currency":     t.Currency,
		"status":       string(t.Status),
		"type":         string(t.Type),
		"merchantId":   t.MerchantID,
		"merchantName": t.MerchantName,
	}
	if t.ConvertedAmount != nil {
		snap["convertedAmount"] = t.ConvertedAmount.String()
		snap["convertedCurrency"] = t.ConvertedCurrency
	}
	if len(t.Metadata) > 0 {
		snap["metadata"] = maps.Clone(t.Metadata)
	}
	return snap
}

// IsCurrencyCode reports whether code looks like an ISO-4217 alphabetic code
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
