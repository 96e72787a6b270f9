package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StageOutcome is the recorded result of a reached stage
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "success"
	OutcomeFailed  StageOutcome = "failed"
	OutcomeSkipped StageOutcome = "skipped"
)

// StageExecutionRecord is the durable audit entry for one reached stage
type StageExecutionRecord struct {
	TransactionID string
	Stage         string
	Outcome       StageOutcome
	Input         map[string]any
	Output        map[string]any
	Error         string
	Duration      time.Duration
	Timestamp     time.Time
}

// StageResult is what a stage returns on success
type StageResult struct {
	Success          bool
	Action           string
	Payload          map[string]any
	TransactionPatch *TransactionPatch
	ContextPatch     *ContextPatch
}

// AccountStatus is the state of a payer account
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// Account is the subset of a user account the risk checker reads
type Account struct {
	ID        string
	Status    AccountStatus
	CreatedAt time.Time
}

// Activity summarises an account's recent transactions
type Activity struct {
	Count int
	Total decimal.Decimal
}
