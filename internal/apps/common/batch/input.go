package batch

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TransactionInput is one transaction as written in a YAML or JSON file
type TransactionInput struct {
	ID           string         `yaml:"id"`
	AccountID    string         `yaml:"account_id"`
	Amount       string         `yaml:"amount"`
	Currency     string         `yaml:"currency"`
	Type         string         `yaml:"type"`
	MerchantID   string         `yaml:"merchant_id"`
	MerchantName string         `yaml:"merchant_name"`
	Metadata     map[string]any `yaml:"metadata"`
	Context      map[string]any `yaml:"context"`
}

// NewTransactionID returns a fresh transaction id
func NewTransactionID() string {
	return "txn-" + uuid.NewString()
}

// Transaction converts the input into a pending transaction. A missing id
// is generated.
func (in TransactionInput) Transaction() (domain.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil {
		return domain.Transaction{}, errors.Validationf("invalid amount %q", in.Amount)
	}
	id := in.ID
	if id == "" {
		id = NewTransactionID()
	}
	typ := domain.TransactionType(strings.ToLower(in.Type))
	if typ == "" {
		typ = domain.TypePayment
	}
	txn := domain.Transaction{
		ID:           id,
		AccountID:    in.AccountID,
		Amount:       amount,
		Currency:     strings.ToUpper(in.Currency),
		Status:       domain.StatusPending,
		Type:         typ,
		MerchantID:   in.MerchantID,
		MerchantName: in.MerchantName,
		Metadata:     in.Metadata,
	}
	if err := txn.Validate(); err != nil {
		return domain.Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid transaction "+id)
	}
	return txn, nil
}

// ProcessingContext converts the context section, coercing decoded values to
// the kinds the context schema expects
func (in TransactionInput) ProcessingContext() (*domain.ProcessingContext, error) {
	pctx := domain.NewProcessingContext()
	for _, key := range slices.Sorted(maps.Keys(in.Context)) {
		value, err := CoerceContextValue(key, in.Context[key])
		if err != nil {
			return nil, err
		}
		pctx.Set(key, value)
	}
	return pctx, nil
}

// CoerceContextValue converts a value decoded from YAML, JSON or a command
// line flag into the kind the schema fixes for key
func CoerceContextValue(key string, raw any) (any, error) {
	kind, ok := domain.SchemaKind(key)
	if !ok {
		return nil, errors.Validationf("unknown context key %q", key)
	}

	var value any
	switch kind {
	case domain.KindBool:
		switch v := raw.(type) {
		case bool:
			value = v
		case string:
			value = v == "true" || v == "1" || v == "yes"
		}
	case domain.KindString:
		value = fmt.Sprint(raw)
	case domain.KindStrings:
		switch v := raw.(type) {
		case []string:
			value = v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, fmt.Sprint(item))
			}
			value = out
		case string:
			value = splitList(v)
		}
	case domain.KindNumber:
		switch v := raw.(type) {
		case int, int64, float64:
			value = v
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, errors.Validationf("context key %q expects a number, got %q", key, v)
			}
			value = d.InexactFloat64()
		}
	case domain.KindDecimal:
		d, err := decimal.NewFromString(fmt.Sprint(raw))
		if err != nil {
			return nil, errors.Validationf("context key %q expects a decimal, got %v", key, raw)
		}
		value = d
	}

	if err := domain.CheckContextValue(key, value); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid context value")
	}
	return value, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ReadTransactions reads a file holding either one transaction or a list of
// them. JSON files are read by the same decoder.
func ReadTransactions(path string) ([]TransactionInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to read "+path)
	}
	return ParseTransactions(data)
}

// ParseTransactions decodes one transaction or a list of them
func ParseTransactions(data []byte) ([]TransactionInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var list []TransactionInput
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var single TransactionInput
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to decode transactions")
	}
	return []TransactionInput{single}, nil
}
