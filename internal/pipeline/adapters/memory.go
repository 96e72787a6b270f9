package adapters

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/shopspring/decimal"
)

// MemoryTransactionStore keeps transactions in process memory
type MemoryTransactionStore struct {
	mu   sync.RWMutex
	txns map[string]domain.Transaction
	now  func() time.Time
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txns: make(map[string]domain.Transaction), now: time.Now}
}

func (s *MemoryTransactionStore) Create(_ context.Context, txn domain.Transaction) error {
	if err := txn.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid transaction")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txns[txn.ID]; exists {
		return errors.Validation("transaction " + txn.ID + " already exists")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.now()
	}
	txn.UpdatedAt = txn.CreatedAt
	s.txns[txn.ID] = txn.Clone()
	return nil
}

func (s *MemoryTransactionStore) FindByID(_ context.Context, id string) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.txns[id]
	if !ok {
		return domain.Transaction{}, errors.NotFound("transaction " + id)
	}
	return txn.Clone(), nil
}

func (s *MemoryTransactionStore) UpdateStatus(_ context.Context, id string, status domain.TransactionStatus, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return errors.NotFound("transaction " + id)
	}
	if !txn.Status.CanTransitionTo(status) {
		return errors.Validationf("illegal status transition %s -> %s", txn.Status, status)
	}
	txn.Status = status
	if len(metadata) > 0 {
		if txn.Metadata == nil {
			txn.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(txn.Metadata, metadata)
	}
	txn.UpdatedAt = s.now()
	s.txns[id] = txn
	return nil
}

func (s *MemoryTransactionStore) UpdateConversion(_ context.Context, id string, amount decimal.Decimal, currency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return errors.NotFound("transaction " + id)
	}
	txn.ConvertedAmount = &amount
	txn.ConvertedCurrency = currency
	txn.UpdatedAt = s.now()
	s.txns[id] = txn
	return nil
}

func (s *MemoryTransactionStore) RecentActivity(_ context.Context, accountID string, since time.Time) (domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity := domain.Activity{Total: decimal.Zero}
	for _, txn := range s.txns {
		if txn.AccountID != accountID || txn.CreatedAt.Before(since) {
			continue
		}
		activity.Count++
		activity.Total = activity.Total.Add(txn.Amount)
	}
	return activity, nil
}

// MemoryTokenStore keeps offline tokens in process memory. A single mutex
// serialises the conditional transitions.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.OfflineToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]domain.OfflineToken)}
}

func (s *MemoryTokenStore) Create(_ context.Context, token domain.OfflineToken) error {
	if token.Token == "" {
		return errors.Validation("token string is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Token]; exists {
		return errors.Validation("token " + token.Token + " already exists")
	}
	s.tokens[token.Token] = token.Clone()
	return nil
}

func (s *MemoryTokenStore) FindByToken(_ context.Context, token string) (domain.OfflineToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.OfflineToken{}, errors.NotFound("token " + token)
	}
	return t.Clone(), nil
}

func (s *MemoryTokenStore) Redeem(_ context.Context, token, merchantID string, at time.Time) (domain.OfflineToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.OfflineToken{}, errors.TokenState("token not found")
	}
	if status := t.EffectiveStatus(at); status != domain.TokenActive {
		return domain.OfflineToken{}, errors.TokenState("token is " + string(status))
	}
	usedAt := at
	t.Status = domain.TokenUsed
	t.UsedAt = &usedAt
	t.RedeemedBy = merchantID
	s.tokens[token] = t
	return t.Clone(), nil
}

func (s *MemoryTokenStore) Cancel(_ context.Context, token string) (domain.OfflineToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.OfflineToken{}, errors.TokenState("token not found")
	}
	if t.Status != domain.TokenActive {
		return domain.OfflineToken{}, errors.TokenState("token is " + string(t.Status))
	}
	t.Status = domain.TokenCancelled
	s.tokens[token] = t
	return t.Clone(), nil
}

func (s *MemoryTokenStore) ExpireStale(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for k, t := range s.tokens {
		if t.Status == domain.TokenActive && !now.Before(t.ExpiresAt) {
			t.Status = domain.TokenExpired
			s.tokens[k] = t
			expired++
		}
	}
	return expired, nil
}

// MemoryAccountLookup serves accounts registered with Put
type MemoryAccountLookup struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

func NewMemoryAccountLookup(accounts ...domain.Account) *MemoryAccountLookup {
	l := &MemoryAccountLookup{accounts: make(map[string]domain.Account, len(accounts))}
	for _, a := range accounts {
		l.accounts[a.ID] = a
	}
	return l
}

func (l *MemoryAccountLookup) Put(account domain.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[account.ID] = account
}

func (l *MemoryAccountLookup) FindByID(_ context.Context, id string) (domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	if !ok {
		return domain.Account{}, errors.NotFound("account " + id)
	}
	return a, nil
}

// MemoryAuditStore appends records to an in-process slice
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []domain.StageExecutionRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, record domain.StageExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryAuditStore) ListByTransaction(_ context.Context, transactionID string) ([]domain.StageExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StageExecutionRecord
	for _, r := range s.records {
		if r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Len returns the number of stored records
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
