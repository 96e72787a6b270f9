package domain

import (
	"fmt"
	"maps"

	"github.com/shopspring/decimal"
)

// TransactionPatch is a typed delta over a Transaction. Nil fields are left
// untouched; metadata entries are merged key by key.
type TransactionPatch struct {
	Status            *TransactionStatus
	ConvertedAmount   *decimal.Decimal
	ConvertedCurrency *string
	Metadata          map[string]any
}

// IsEmpty reports whether the patch changes nothing
func (p *TransactionPatch) IsEmpty() bool {
	return p == nil || (p.Status == nil && p.ConvertedAmount == nil &&
		p.ConvertedCurrency == nil && len(p.Metadata) == 0)
}

// WithStatus sets the status field
func (p *TransactionPatch) WithStatus(status TransactionStatus) *TransactionPatch {
	p.Status = &status
	return p
}

// WithConversion sets both converted fields
func (p *TransactionPatch) WithConversion(amount decimal.Decimal, currency string) *TransactionPatch {
	p.ConvertedAmount = &amount
	p.ConvertedCurrency = &currency
	return p
}

// WithMetadata adds a metadata entry
func (p *TransactionPatch) WithMetadata(key string, value any) *TransactionPatch {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = value
	return p
}

// Validate checks the patch against the transaction it will be merged into
func (p *TransactionPatch) Validate(current Transaction) error {
	if p == nil {
		return nil
	}
	if p.Status != nil && !current.Status.CanTransitionTo(*p.Status) {
		return fmt.Errorf("illegal status transition %s -> %s", current.Status, *p.Status)
	}
	if p.ConvertedAmount != nil && p.ConvertedAmount.IsNegative() {
		return fmt.Errorf("converted amount must not be negative")
	}
	if p.ConvertedCurrency != nil && !IsCurrencyCode(*p.ConvertedCurrency) {
		return fmt.Errorf("invalid converted currency %q", *p.ConvertedCurrency)
	}
	if (p.ConvertedAmount == nil) != (p.ConvertedCurrency == nil) {
		return fmt.Errorf("converted amount and currency must be patched together")
	}
	for k := range p.Metadata {
		if k == "" {
			return fmt.Errorf("metadata key must not be empty")
		}
	}
	return nil
}

// Apply merges the patch into t field by field
func (p *TransactionPatch) Apply(t *Transaction) {
	if p == nil {
		return
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ConvertedAmount != nil {
		amount := *p.ConvertedAmount
		t.ConvertedAmount = &amount
	}
	if p.ConvertedCurrency != nil {
		t.ConvertedCurrency = *p.ConvertedCurrency
	}
	if len(p.Metadata) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, len(p.Metadata))
		}
		maps.Copy(t.Metadata, p.Metadata)
	}
}

// Snapshot renders the patch for audit records
func (p *TransactionPatch) Snapshot() map[string]any {
	snap := map[string]any{}
	if p == nil {
		return snap
	}
	if p.Status != nil {
		snap["status"] = string(*p.Status)
	}
	if p.ConvertedAmount != nil {
		snap["convertedAmount"] = p.ConvertedAmount.String()
	}
	if p.ConvertedCurrency != nil {
		snap["convertedCurrency"] = *p.ConvertedCurrency
	}
	if len(p.Metadata) > 0 {
		snap["metadata"] = maps.Clone(p.Metadata)
	}
	return snap
}

// ContextEntry is one key/value write of a ContextPatch
type ContextEntry struct {
	Key   string
	Value any
}

// ContextPatch is an ordered list of context writes
type ContextPatch struct {
	Entries []ContextEntry
}

// Set appends a write
func (p *ContextPatch) Set(key string, value any) *ContextPatch {
	p.Entries = append(p.Entries, ContextEntry{Key: key, Value: value})
	return p
}

// IsEmpty reports whether the patch writes nothing
func (p *ContextPatch) IsEmpty() bool {
	return p == nil || len(p.Entries) == 0
}

// Validate checks every write against the context schema
func (p *ContextPatch) Validate() error {
	if p == nil {
		return nil
	}
	for _, e := range p.Entries {
		if err := CheckContextValue(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes the entries in order, last writer wins
func (p *ContextPatch) Apply(c *ProcessingContext) {
	if p == nil {
		return
	}
	for _, e := range p.Entries {
		c.Set(e.Key, e.Value)
	}
}

// Snapshot renders the patch for audit records
func (p *ContextPatch) Snapshot() map[string]any {
	snap := map[string]any{}
	if p == nil {
		return snap
	}
	for _, e := range p.Entries {
		v := e.Value
		if d, ok := v.(decimal.Decimal); ok {
			v = d.String()
		}
		snap[e.Key] = v
	}
	return snap
}
