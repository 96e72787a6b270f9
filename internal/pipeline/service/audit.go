package service

import (
	"context"
	"fmt"
	"time"

	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"
)

const defaultAuditTimeout = 2 * time.Second

// AuditLogger writes stage execution records on a best-effort basis.
// A failed write is logged and returned but never changes a run's outcome.
type AuditLogger struct {
	store   ports.AuditStore
	timeout time.Duration
	logger  *logging.Logger
}

// NewAuditLogger wraps store. A nil store makes Record a no-op.
func NewAuditLogger(store ports.AuditStore, timeout time.Duration, logger *logging.Logger) *AuditLogger {
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	if logger == nil {
		logger = logging.NewDefaultLogger("audit")
	}
	return &AuditLogger{store: store, timeout: timeout, logger: logger}
}

// Record appends rec within the audit timeout
func (a *AuditLogger) Record(ctx context.Context, rec domain.StageExecutionRecord) error {
	if a == nil || a.store == nil {
		return nil
	}
	err := bounded(ctx, a.timeout, "audit append", func(ctx context.Context) error {
		return a.store.Append(ctx, rec)
	})
	if err != nil {
		err = fmt.Errorf("audit %s/%s: %w", rec.TransactionID, rec.Stage, err)
		a.logger.Warn("failed to write audit record: %v", err)
	}
	return err
}

// History lists the records written for a transaction
func (a *AuditLogger) History(ctx context.Context, transactionID string) ([]domain.StageExecutionRecord, error) {
	if a == nil || a.store == nil {
		return nil, nil
	}
	return a.store.ListByTransaction(ctx, transactionID)
}
