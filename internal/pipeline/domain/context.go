package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Context keys understood by the pipeline
const (
	KeyForceConversion         = "forceConversion"
	KeyTargetCurrency          = "targetCurrency"
	KeyAllowFxFailure          = "allowFxFailure"
	KeySkipRiskCheck           = "skipRiskCheck"
	KeyTokenOperation          = "tokenOperation"
	KeyToken                   = "token"
	KeyMerchantType            = "merchantType"
	KeyLocation                = "location"
	KeyExpiryHours             = "expiryHours"
	KeyAllowedMerchants        = "allowedMerchants"
	KeyBlockedMerchants        = "blockedMerchants"
	KeyMerchantTypeRestriction = "merchantTypeRestriction"
	KeyFxRate                  = "fxRate"
	KeyFxFee                   = "fxFee"
	KeyRiskScore               = "riskScore"
	KeyRiskLevel               = "riskLevel"
	KeyRiskAction              = "riskAction"
	KeyTokenValid              = "tokenValid"

	// HintPrefix marks caller-defined string hints outside the fixed schema
	HintPrefix = "hint."
)

// ValueKind is the type a context key must carry
type ValueKind int

const (
	KindBool ValueKind = iota
	KindString
	KindStrings
	KindNumber
	KindDecimal
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindStrings:
		return "[]string"
	case KindNumber:
		return "number"
	case KindDecimal:
		return "decimal"
	default:
		return "unknown"
	}
}

var contextSchema = map[string]ValueKind{
	KeyForceConversion:         KindBool,
	KeyTargetCurrency:          KindString,
	KeyAllowFxFailure:          KindBool,
	KeySkipRiskCheck:           KindBool,
	KeyTokenOperation:          KindString,
	KeyToken:                   KindString,
	KeyMerchantType:            KindString,
	KeyLocation:                KindString,
	KeyExpiryHours:             KindNumber,
	KeyAllowedMerchants:        KindStrings,
	KeyBlockedMerchants:        KindStrings,
	KeyMerchantTypeRestriction: KindStrings,
	KeyFxRate:                  KindDecimal,
	KeyFxFee:                   KindDecimal,
	KeyRiskScore:               KindNumber,
	KeyRiskLevel:               KindString,
	KeyRiskAction:              KindString,
	KeyTokenValid:              KindBool,
}

// SchemaKind returns the kind a key must carry. Hint keys are strings.
func SchemaKind(key string) (ValueKind, bool) {
	if strings.HasPrefix(key, HintPrefix) && len(key) > len(HintPrefix) {
		return KindString, true
	}
	kind, ok := contextSchema[key]
	return kind, ok
}

// CheckContextValue validates value against the schema entry for key
func CheckContextValue(key string, value any) error {
	kind, ok := SchemaKind(key)
	if !ok {
		return fmt.Errorf("unknown context key %q", key)
	}
	if !matchesKind(kind, value) {
		return fmt.Errorf("context key %q expects %s, got %T", key, kind, value)
	}
	return nil
}

func matchesKind(kind ValueKind, value any) bool {
	switch kind {
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindString:
		_, ok := value.(string)
		return ok
	case KindStrings:
		_, ok := value.([]string)
		return ok
	case KindNumber:
		_, ok := toFloat(value)
		return ok
	case KindDecimal:
		_, ok := value.(decimal.Decimal)
		return ok
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// ProcessingContext is the ordered side-channel map threaded alongside a
// transaction. The first write of a key fixes its position; later writes
// replace the value in place.
type ProcessingContext struct {
	keys   []string
	values map[string]any
}

// NewProcessingContext creates an empty context
func NewProcessingContext() *ProcessingContext {
	return &ProcessingContext{values: make(map[string]any)}
}

// Set stores value under key
func (c *ProcessingContext) Set(key string, value any) *ProcessingContext {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
	return c
}

// Get returns the raw value under key
func (c *ProcessingContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Bool returns the boolean under key, false when absent or of another type
func (c *ProcessingContext) Bool(key string) bool {
	v, _ := c.Get(key)
	b, _ := v.(bool)
	return b
}

// String returns the string under key, "" when absent or of another type
func (c *ProcessingContext) String(key string) string {
	v, _ := c.Get(key)
	s, _ := v.(string)
	return s
}

// Strings returns the string list under key
func (c *ProcessingContext) Strings(key string) []string {
	v, _ := c.Get(key)
	s, _ := v.([]string)
	return s
}

// Number returns the numeric value under key
func (c *ProcessingContext) Number(key string) (float64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Decimal returns the decimal value under key
func (c *ProcessingContext) Decimal(key string) (decimal.Decimal, bool) {
	v, _ := c.Get(key)
	d, ok := v.(decimal.Decimal)
	return d, ok
}

// Keys returns the keys in insertion order
func (c *ProcessingContext) Keys() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.keys)
}

// Len returns the number of keys
func (c *ProcessingContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Clone returns a deep enough copy for a stage to read without observing
// later mutations. String slices are copied.
func (c *ProcessingContext) Clone() *ProcessingContext {
	out := NewProcessingContext()
	if c == nil {
		return out
	}
	for _, k := range c.keys {
		v := c.values[k]
		if s, ok := v.([]string); ok {
			v = slices.Clone(s)
		}
		out.Set(k, v)
	}
	return out
}

// Snapshot renders the context as a map for audit records
func (c *ProcessingContext) Snapshot() map[string]any {
	snap := make(map[string]any, c.Len())
	if c == nil {
		return snap
	}
	for _, k := range c.keys {
		v := c.values[k]
		if d, ok := v.(decimal.Decimal); ok {
			v = d.String()
		}
		snap[k] = v
	}
	return snap
}
