package ports

import (
	"context"
	"time"

	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
)

// Port interfaces for the pipeline's durable collaborators

// TransactionStore persists transactions. Updates are per field so concurrent
// metadata writers do not clobber each other.
type TransactionStore interface {
	Create(ctx context.Context, txn domain.Transaction) error
	FindByID(ctx context.Context, id string) (domain.Transaction, error)
	// UpdateStatus sets the status and merges metadata key by key
	UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, metadata map[string]any) error
	UpdateConversion(ctx context.Context, id string, amount decimal.Decimal, currency string) error
	// RecentActivity summarises the account's transactions created at or after since
	RecentActivity(ctx context.Context, accountID string, since time.Time) (domain.Activity, error)
}

// TokenStore persists offline tokens. Redeem and Cancel are conditional on
// the token still being active.
type TokenStore interface {
	Create(ctx context.Context, token domain.OfflineToken) error
	FindByToken(ctx context.Context, token string) (domain.OfflineToken, error)
	Redeem(ctx context.Context, token, merchantID string, at time.Time) (domain.OfflineToken, error)
	Cancel(ctx context.Context, token string) (domain.OfflineToken, error)
	// ExpireStale moves active tokens past their expiry to expired and returns how many moved
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// AccountLookup resolves payer accounts for the user risk factor
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (domain.Account, error)
}

// AuditStore appends stage execution records
type AuditStore interface {
	Append(ctx context.Context, record domain.StageExecutionRecord) error
	ListByTransaction(ctx context.Context, transactionID string) ([]domain.StageExecutionRecord, error)
}

// RateSource returns a directly quoted exchange rate for from->to
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
}

// Clock abstracts time for stages that score or expire by wall clock
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
