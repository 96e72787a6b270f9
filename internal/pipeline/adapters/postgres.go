package adapters

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"time"

	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// Queryable is the subset of pgx shared by pools, connections and transactions
type Queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgresPool connects to dsn and verifies the connection
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "invalid postgres dsn")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.External("postgres", err)
	}
	return pool, nil
}

// EnsureSchema creates the pipeline tables when they do not exist
func EnsureSchema(ctx context.Context, db Queryable) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.External("postgres", err)
	}
	return nil
}

// PostgresTransactionStore persists transactions in the transactions table.
// Status and metadata updates are single statements so concurrent writers
// merge metadata instead of overwriting it.
type PostgresTransactionStore struct {
	db Queryable
}

func NewPostgresTransactionStore(db Queryable) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

func (s *PostgresTransactionStore) Create(ctx context.Context, txn domain.Transaction) error {
	if err := txn.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid transaction")
	}
	metadata, err := marshalJSON(txn.Metadata)
	if err != nil {
		return err
	}
	createdAt := txn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const sql = `
		INSERT INTO transactions
			(id, account_id, amount, currency, status, type, merchant_id, merchant_name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9::jsonb, $10, $10)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.db.Exec(ctx, sql,
		txn.ID, txn.AccountID, txn.Amount.String(), txn.Currency, string(txn.Status), string(txn.Type),
		txn.MerchantID, txn.MerchantName, metadata, createdAt)
	if err != nil {
		return errors.External("postgres", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Validation("transaction " + txn.ID + " already exists")
	}
	return nil
}

func (s *PostgresTransactionStore) FindByID(ctx context.Context, id string) (domain.Transaction, error) {
	const sql = `
		SELECT id, account_id, amount::text, currency, converted_amount::text, converted_currency,
		       status, type, merchant_id, merchant_name, metadata, created_at, updated_at
		FROM transactions WHERE id = $1`

	var (
		txn               domain.Transaction
		amount            string
		convertedAmount   *string
		convertedCurrency *string
		status, txnType   string
		metadata          []byte
	)
	err := s.db.QueryRow(ctx, sql, id).Scan(
		&txn.ID, &txn.AccountID, &amount, &txn.Currency, &convertedAmount, &convertedCurrency,
		&status, &txnType, &txn.MerchantID, &txn.MerchantName, &metadata, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, errors.NotFound("transaction " + id)
	}
	if err != nil {
		return domain.Transaction{}, errors.External("postgres", err)
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt amount")
	}
	if convertedAmount != nil {
		converted, err := decimal.NewFromString(*convertedAmount)
		if err != nil {
			return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt converted amount")
		}
		txn.ConvertedAmount = &converted
	}
	if convertedCurrency != nil {
		txn.ConvertedCurrency = *convertedCurrency
	}
	txn.Status = domain.TransactionStatus(status)
	txn.Type = domain.TransactionType(txnType)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt metadata")
		}
	}
	return txn, nil
}

// UpdateStatus applies the transition only from a status that may legally
// precede it, merging metadata with jsonb concatenation
func (s *PostgresTransactionStore) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, metadata map[string]any) error {
	if !status.IsValid() {
		return errors.Validationf("invalid status %q", status)
	}
	patch, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(domain.TransactionStatuses))
	for _, src := range domain.SourcesOf(status) {
		sources = append(sources, string(src))
	}

	const sql = `
		UPDATE transactions
		SET status = $2, metadata = metadata || $3::jsonb, updated_at = now()
		WHERE id = $1 AND status = ANY($4)`
	tag, err := s.db.Exec(ctx, sql, id, string(status), patch, sources)
	if err != nil {
		return errors.External("postgres", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return errors.Validationf("illegal status transition %s -> %s", current.Status, status)
}

func (s *PostgresTransactionStore) UpdateConversion(ctx context.Context, id string, amount decimal.Decimal, currency string) error {
	const sql = `
		UPDATE transactions
		SET converted_amount = $2::numeric, converted_currency = $3, updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, sql, id, amount.String(), currency)
	if err != nil {
		return errors.External("postgres", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("transaction " + id)
	}
	return nil
}

func (s *PostgresTransactionStore) RecentActivity(ctx context.Context, accountID string, since time.Time) (domain.Activity, error) {
	const sql = `
		SELECT count(*), COALESCE(sum(amount), 0)::text
		FROM transactions
		WHERE account_id = $1 AND created_at >= $2`

	var (
		count int
		total string
	)
	if err := s.db.QueryRow(ctx, sql, accountID, since).Scan(&count, &total); err != nil {
		return domain.Activity{}, errors.External("postgres", err)
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Activity{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt activity total")
	}
	return domain.Activity{Count: count, Total: sum}, nil
}

// PostgresAccountLookup reads payer accounts from the accounts table
type PostgresAccountLookup struct {
	db Queryable
}

func NewPostgresAccountLookup(db Queryable) *PostgresAccountLookup {
	return &PostgresAccountLookup{db: db}
}

func (l *PostgresAccountLookup) FindByID(ctx context.Context, id string) (domain.Account, error) {
	var (
		account domain.Account
		status  string
	)
	err := l.db.QueryRow(ctx, `SELECT id, status, created_at FROM accounts WHERE id = $1`, id).
		Scan(&account.ID, &status, &account.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, errors.NotFound("account " + id)
	}
	if err != nil {
		return domain.Account{}, errors.External("postgres", err)
	}
	account.Status = domain.AccountStatus(status)
	return account, nil
}

// Put inserts or replaces an account
func (l *PostgresAccountLookup) Put(ctx context.Context, account domain.Account) error {
	const sql = `
		INSERT INTO accounts (id, status, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, created_at = EXCLUDED.created_at`
	if _, err := l.db.Exec(ctx, sql, account.ID, string(account.Status), account.CreatedAt); err != nil {
		return errors.External("postgres", err)
	}
	return nil
}

// PostgresAuditStore appends stage execution records to stage_executions
type PostgresAuditStore struct {
	db Queryable
}

func NewPostgresAuditStore(db Queryable) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Append(ctx context.Context, rec domain.StageExecutionRecord) error {
	input, err := marshalJSON(rec.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(rec.Output)
	if err != nil {
		return err
	}
	const sql = `
		INSERT INTO stage_executions
			(transaction_id, stage, outcome, input, output, error, duration_ns, recorded_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8)`
	_, err = s.db.Exec(ctx, sql, rec.TransactionID, rec.Stage, string(rec.Outcome),
		input, output, rec.Error, rec.Duration.Nanoseconds(), rec.Timestamp)
	if err != nil {
		return errors.External("postgres", err)
	}
	return nil
}

func (s *PostgresAuditStore) ListByTransaction(ctx context.Context, transactionID string) ([]domain.StageExecutionRecord, error) {
	const sql = `
		SELECT transaction_id, stage, outcome, input, output, error, duration_ns, recorded_at
		FROM stage_executions
		WHERE transaction_id = $1
		ORDER BY recorded_at, id`
	rows, err := s.db.Query(ctx, sql, transactionID)
	if err != nil {
		return nil, errors.External("postgres", err)
	}
	defer rows.Close()

	var out []domain.StageExecutionRecord
	for rows.Next() {
		var (
			rec           domain.StageExecutionRecord
			outcome       string
			input, output []byte
			durationNs    int64
		)
		if err := rows.Scan(&rec.TransactionID, &rec.Stage, &outcome, &input, &output,
			&rec.Error, &durationNs, &rec.Timestamp); err != nil {
			return nil, errors.External("postgres", err)
		}
		rec.Outcome = domain.StageOutcome(outcome)
		rec.Duration = time.Duration(durationNs)
		if err := json.Unmarshal(input, &rec.Input); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt audit input")
		}
		if err := json.Unmarshal(output, &rec.Output); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt audit output")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.External("postgres", err)
	}
	return out, nil
}

func marshalJSON(v map[string]any) (string, error) {
	if len(v) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "value is not JSON encodable")
	}
	return string(raw), nil
}
